package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/makcu"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Long:  `List the serial ports visible on this machine, for picking the MAKCU device.`,
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := makcu.ListPorts()
	if err != nil {
		return fmt.Errorf("serial port discovery failed: %w", err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, port := range ports {
		fmt.Println(port)
	}
	return nil
}
