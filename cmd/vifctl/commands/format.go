package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStruct renders a structpb.Struct response (vif, stats or settings
// fields) in the requested format. Every RPC this CLI calls returns a
// well-known structpb.Struct or scalar wrapper (see DESIGN.md's
// internal/server entry), so one generic formatter covers all of them
// instead of a formatter per response shape.
func formatStruct(s *structpb.Struct, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStructJSON(s)
	case formatTable:
		return formatStructTable(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStructJSON(s *structpb.Struct) (string, error) {
	data, err := json.MarshalIndent(s.AsMap(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal struct to JSON: %w", err)
	}

	return string(data), nil
}

func formatStructTable(s *structpb.Struct) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fields := s.GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "%s:\t%s\n", k, valueString(fields[k]))
	}

	w.Flush() //nolint:errcheck // strings.Builder never fails to write

	return buf.String()
}

// valueString renders a single structpb.Value without the quoting
// encoding/json would add around strings, matching gobfdctl's detail-view
// style of one bare value per line.
func valueString(v *structpb.Value) string {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		return fmt.Sprintf("%g", kind.NumberValue)
	case *structpb.Value_BoolValue:
		return fmt.Sprintf("%t", kind.BoolValue)
	case *structpb.Value_NullValue:
		return "null"
	default:
		data, _ := json.Marshal(v.AsInterface())
		return string(data)
	}
}
