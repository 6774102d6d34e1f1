// Команда iec61850 клиент и сервер IEC 61850 MMS для проверки устройств
// и разбора трафика.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
