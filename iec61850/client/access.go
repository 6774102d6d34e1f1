package client

import (
	"context"
	"fmt"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// objectName переводит ссылку в имя MMS переменной. fc = FCNone оставляет
// функциональную связь, указанную в ссылке в квадратных скобках.
func objectName(reference string, fc model.FunctionalConstraint) (model.ObjectReference, error) {
	ref, err := model.ParseObjectReference(reference)
	if err != nil {
		return ref, fmt.Errorf("%w: %w", ErrorObjectReferenceInvalid, err)
	}
	if fc != model.FCNone {
		ref = ref.WithFC(fc)
	}
	if ref.FC == model.FCNone && len(ref.Path) > 0 {
		return ref, fmt.Errorf("%w: %s has no functional constraint", ErrorObjectReferenceInvalid, reference)
	}
	return ref, nil
}

// ReadObject читает значение объекта или атрибута "LD/LN.DO.DA" с
// функциональной связью fc
func (c *Connection) ReadObject(ctx context.Context, reference string, fc model.FunctionalConstraint) (*variant.Variant, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	ref, err := objectName(reference, fc)
	if err != nil {
		return nil, err
	}

	var value *variant.Variant
	if ref.HasIndex() {
		value, err = conn.ReadArrayElements(ctx, ref.DomainID(), ref.ItemID(), ref.Index, 0)
	} else {
		value, err = conn.ReadVariable(ctx, ref.DomainID(), ref.ItemID())
	}
	if err != nil {
		return nil, wrap(err)
	}
	if value.Type() == variant.DataAccessError {
		code := mms.DataAccessError(value.AccessError())
		return nil, fmt.Errorf("%w: %s: %w", FromDataAccessError(code), ref, code)
	}
	return value, nil
}

func (c *Connection) readTyped(ctx context.Context, reference string, fc model.FunctionalConstraint, types ...variant.Type) (*variant.Variant, error) {
	value, err := c.ReadObject(ctx, reference, fc)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		if value.Type() == t {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is %s", ErrorUnexpectedValue, reference, value.Type())
}

// ReadBool читает атрибут BOOLEAN
func (c *Connection) ReadBool(ctx context.Context, reference string, fc model.FunctionalConstraint) (bool, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.Boolean)
	if err != nil {
		return false, err
	}
	return value.Bool(), nil
}

// ReadInt читает целочисленный атрибут
func (c *Connection) ReadInt(ctx context.Context, reference string, fc model.FunctionalConstraint) (int64, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.Integer, variant.Unsigned)
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// ReadUint читает атрибут без знака
func (c *Connection) ReadUint(ctx context.Context, reference string, fc model.FunctionalConstraint) (uint64, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.Unsigned, variant.Integer)
	if err != nil {
		return 0, err
	}
	return value.Uint64(), nil
}

// ReadFloat читает атрибут FLOAT32 или FLOAT64
func (c *Connection) ReadFloat(ctx context.Context, reference string, fc model.FunctionalConstraint) (float64, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.Float32, variant.Float64)
	if err != nil {
		return 0, err
	}
	return value.Float64(), nil
}

// ReadString читает строковый атрибут
func (c *Connection) ReadString(ctx context.Context, reference string, fc model.FunctionalConstraint) (string, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.VisibleString, variant.MMSString)
	if err != nil {
		return "", err
	}
	return value.Text(), nil
}

// ReadTimestamp читает атрибут TIMESTAMP
func (c *Connection) ReadTimestamp(ctx context.Context, reference string, fc model.FunctionalConstraint) (time.Time, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.UTCTime, variant.BinaryTime)
	if err != nil {
		return time.Time{}, err
	}
	return value.Time(), nil
}

// ReadQuality читает атрибут качества
func (c *Connection) ReadQuality(ctx context.Context, reference string, fc model.FunctionalConstraint) (model.Quality, error) {
	value, err := c.readTyped(ctx, reference, fc, variant.BitString)
	if err != nil {
		return 0, err
	}
	return model.Quality(value.BitStringUint()), nil
}

// WriteObject записывает значение объекта или атрибута
func (c *Connection) WriteObject(ctx context.Context, reference string, fc model.FunctionalConstraint, value *variant.Variant) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	ref, err := objectName(reference, fc)
	if err != nil {
		return err
	}

	if ref.HasIndex() {
		err = conn.WriteArrayElements(ctx, ref.DomainID(), ref.ItemID(), ref.Index, 0, value)
	} else {
		err = conn.WriteVariable(ctx, ref.DomainID(), ref.ItemID(), value)
	}
	return wrap(err)
}

// WriteBool записывает атрибут BOOLEAN
func (c *Connection) WriteBool(ctx context.Context, reference string, fc model.FunctionalConstraint, value bool) error {
	return c.WriteObject(ctx, reference, fc, variant.NewBoolVariant(value))
}

// WriteInt32 записывает атрибут INT32
func (c *Connection) WriteInt32(ctx context.Context, reference string, fc model.FunctionalConstraint, value int32) error {
	return c.WriteObject(ctx, reference, fc, variant.NewInt32Variant(value))
}

// WriteUint32 записывает атрибут INT32U
func (c *Connection) WriteUint32(ctx context.Context, reference string, fc model.FunctionalConstraint, value uint32) error {
	return c.WriteObject(ctx, reference, fc, variant.NewUnsignedVariant(uint64(value)))
}

// WriteFloat записывает атрибут FLOAT32
func (c *Connection) WriteFloat(ctx context.Context, reference string, fc model.FunctionalConstraint, value float32) error {
	return c.WriteObject(ctx, reference, fc, variant.NewFloat32Variant(value))
}

// WriteOctetString записывает атрибут OCTET STRING
func (c *Connection) WriteOctetString(ctx context.Context, reference string, fc model.FunctionalConstraint, value []byte) error {
	return c.WriteObject(ctx, reference, fc, variant.NewOctetStringVariant(value))
}

// WriteVisibleString записывает атрибут VISIBLE STRING
func (c *Connection) WriteVisibleString(ctx context.Context, reference string, fc model.FunctionalConstraint, value string) error {
	return c.WriteObject(ctx, reference, fc, variant.NewVisibleStringVariant(value))
}

// VariableSpecification возвращает спецификацию типа объекта
func (c *Connection) VariableSpecification(ctx context.Context, reference string, fc model.FunctionalConstraint) (*mms.TypeSpecification, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	ref, err := objectName(reference, fc)
	if err != nil {
		return nil, err
	}
	spec, err := conn.GetVariableAccessAttributes(ctx, ref.DomainID(), ref.ItemID())
	return spec, wrap(err)
}
