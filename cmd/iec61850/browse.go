package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/careychow/libIEC61850-sub000/iec61850/client"
)

var browseAttributes bool

var browseCmd = &cobra.Command{
	Use:   "browse [LD | LD/LN | LD/LN.DO]",
	Short: "Browse the server data model",
	Long: `Browse lists logical devices, logical nodes, data objects, data sets
and report control blocks of the server.

Without arguments the whole model is listed. A logical device or a logical
node limits the listing; a data object reference lists its components with
their functional constraints.

Examples:
  # Whole model with data attributes
  iec61850 browse --attributes

  # One logical node
  iec61850 browse GenericIO/GGIO1

  # Components of a data object
  iec61850 browse GenericIO/GGIO1.SPCSO1`,

	Args: cobra.MaximumNArgs(1),
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().BoolVarP(&browseAttributes, "attributes", "a", false, "List data attributes of every data object")
}

// browseNode узел дерева модели для вывода
type browseNode struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Children []*browseNode `json:"children,omitempty"`
}

func (n *browseNode) add(name, kind string) *browseNode {
	child := &browseNode{Name: name, Kind: kind}
	n.Children = append(n.Children, child)
	return child
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext()
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	root := &browseNode{Kind: "server"}
	switch {
	case len(args) == 0:
		devices, err := s.conn.ServerDirectory(ctx)
		if err != nil {
			return fmt.Errorf("server directory: %w", err)
		}
		for _, ld := range devices {
			if err := browseDevice(ctx, s.conn, root.add(ld, "LD")); err != nil {
				return err
			}
		}
	case strings.Contains(args[0], "."):
		node := root.add(args[0], "DO")
		names, err := s.conn.DataDirectoryFC(ctx, args[0])
		if err != nil {
			return fmt.Errorf("data directory %s: %w", args[0], err)
		}
		for _, name := range names {
			node.add(name, "DA")
		}
	case strings.Contains(args[0], "/"):
		ld, ln, _ := strings.Cut(args[0], "/")
		if err := browseLogicalNode(ctx, s.conn, root.add(ld, "LD").add(ln, "LN"), args[0]); err != nil {
			return err
		}
	default:
		if err := browseDevice(ctx, s.conn, root.add(args[0], "LD")); err != nil {
			return err
		}
	}

	if viper.GetString("output") == formatJSON {
		return newPrinter(formatJSON).json(root.Children)
	}
	for _, child := range root.Children {
		printBrowseNode(child, 0)
	}
	return nil
}

func browseDevice(ctx context.Context, c *client.Connection, ld *browseNode) error {
	nodes, err := c.LogicalDeviceDirectory(ctx, ld.Name)
	if err != nil {
		return fmt.Errorf("logical device %s: %w", ld.Name, err)
	}
	for _, ln := range nodes {
		if err := browseLogicalNode(ctx, c, ld.add(ln, "LN"), ld.Name+"/"+ln); err != nil {
			return err
		}
	}
	return nil
}

func browseLogicalNode(ctx context.Context, c *client.Connection, ln *browseNode, lnRef string) error {
	classes := []struct {
		class client.ACSIClass
		kind  string
	}{
		{client.ClassDataObject, "DO"},
		{client.ClassDataSet, "DS"},
		{client.ClassURCB, "RP"},
		{client.ClassBRCB, "BR"},
	}
	for _, cl := range classes {
		names, err := c.LogicalNodeDirectory(ctx, lnRef, cl.class)
		if err != nil {
			return fmt.Errorf("logical node %s: %w", lnRef, err)
		}
		for _, name := range names {
			child := ln.add(name, cl.kind)
			if cl.class != client.ClassDataObject || !browseAttributes {
				continue
			}
			attributes, err := c.DataDirectoryFC(ctx, lnRef+"."+name)
			if err != nil {
				return fmt.Errorf("data directory %s.%s: %w", lnRef, name, err)
			}
			for _, da := range attributes {
				child.add(da, "DA")
			}
		}
	}
	return nil
}

func printBrowseNode(n *browseNode, depth int) {
	fmt.Printf("%s%s %s\n", strings.Repeat("  ", depth), typeColor(n.Kind), refColor(n.Name))
	for _, child := range n.Children {
		printBrowseNode(child, depth+1)
	}
}
