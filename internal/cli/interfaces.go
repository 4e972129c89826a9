package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"netfeed/internal/discovery"
	"netfeed/internal/models"
)

var interfacesJSON bool

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List interfaces that can be captured on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printInterfaces(cmd.OutOrStdout(), discovery.List, interfacesJSON)
	},
}

func init() {
	interfacesCmd.Flags().BoolVar(&interfacesJSON, "json", false, "Print the same JSON the API returns")
}

func printInterfaces(w io.Writer, list discovery.Lister, asJSON bool) error {
	ifaces, err := list()
	if err != nil {
		return err
	}

	if asJSON {
		resp := models.InterfacesResponse{Interfaces: make([]models.InterfaceInfo, 0, len(ifaces))}
		for _, iface := range ifaces {
			resp.Interfaces = append(resp.Interfaces, iface.Info())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIP\tMAC")
	for _, iface := range ifaces {
		mac := "-"
		if len(iface.MAC) > 0 {
			mac = iface.MAC.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", iface.Name, iface.IP, mac)
	}
	return tw.Flush()
}
