// Package commands implements the govxlanctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatInstances renders a list of instances in the requested format.
func formatInstances(instances []vxlanapi.Instance, format string) (string, error) {
	if format == formatTable {
		return formatInstancesTable(instances)
	}
	if instances == nil {
		instances = []vxlanapi.Instance{}
	}
	return marshalValue(instances, format)
}

// formatInstance renders a single instance in the requested format.
func formatInstance(inst vxlanapi.Instance, format string) (string, error) {
	if format == formatTable {
		return formatInstanceDetail(inst)
	}
	return marshalValue(inst, format)
}

// formatFDB renders forwarding table entries in the requested format.
func formatFDB(entries []vxlanapi.FDBEntry, format string) (string, error) {
	if format == formatTable {
		return formatFDBTable(entries)
	}
	if entries == nil {
		entries = []vxlanapi.FDBEntry{}
	}
	return marshalValue(entries, format)
}

// marshalValue encodes v as JSON or YAML. The result ends with a newline.
func marshalValue(v any, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal to YAML: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatInstancesTable(instances []vxlanapi.Instance) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VNI\tPORT\tGROUP\tFDB\tLOCAL\tRX\tTX-UNICAST\tTX-FLOOD\tDROPPED")

	for _, inst := range instances {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			inst.VNI,
			inst.PortName,
			inst.Group,
			inst.FDBEntries,
			inst.LocalMACs,
			inst.PacketsReceived,
			inst.PacketsSentUnicast,
			inst.PacketsSentFlood,
			inst.PacketsDropped,
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatInstanceDetail(inst vxlanapi.Instance) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "VNI:\t%d\n", inst.VNI)
	fmt.Fprintf(w, "Port:\t%s\n", inst.PortName)
	fmt.Fprintf(w, "Group:\t%s\n", inst.Group)
	fmt.Fprintf(w, "FDB Entries:\t%d\n", inst.FDBEntries)
	fmt.Fprintf(w, "Local MACs:\t%d\n", inst.LocalMACs)
	if !inst.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:\t%s\n", inst.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Packets Received:\t%d\n", inst.PacketsReceived)
	fmt.Fprintf(w, "Packets Sent (unicast):\t%d\n", inst.PacketsSentUnicast)
	fmt.Fprintf(w, "Packets Sent (flood):\t%d\n", inst.PacketsSentFlood)
	fmt.Fprintf(w, "Packets Dropped:\t%d\n", inst.PacketsDropped)
	if inst.Faulted {
		fmt.Fprintln(w, "State:\tfaulted (local port down)")
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatFDBTable(entries []vxlanapi.FDBEntry) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tREMOTE\tLAST-SEEN")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.MAC, e.Remote, e.LastSeen.Format(time.RFC3339))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
