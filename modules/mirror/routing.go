package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
)

// RoutingTable maps a source conversation id to its ordered target
// conversation ids. It is immutable after construction.
type RoutingTable struct {
	routes map[string][]string
}

// NewRoutingTable builds a table from already-parsed routes. Later duplicate
// sources replace earlier ones.
func NewRoutingTable(routes map[string][]string) *RoutingTable {
	table := &RoutingTable{routes: make(map[string][]string, len(routes))}
	for source, targets := range routes {
		table.routes[source] = slices.Clone(targets)
	}

	return table
}

// LoadRoutingTable reads and parses a routing file.
func LoadRoutingTable(path string) (*RoutingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{
				Path:   path,
				Reason: "file not found",
				Err:    fmt.Errorf("%w: %w", ErrConfigMissing, err),
			}
		}
		return nil, &ConfigError{
			Path:   path,
			Reason: "read file",
			Err:    fmt.Errorf("%w: %w", ErrConfigMissing, err),
		}
	}

	table, err := ParseRoutingTable(raw)
	if err != nil {
		var configErr *ConfigError
		if errors.As(err, &configErr) {
			configErr.Path = path
		}
		return nil, err
	}

	return table, nil
}

// ParseRoutingTable parses a JSON array of arrays whose elements are
// non-negative integers: [[source, target...], ...].
func ParseRoutingTable(raw []byte) (*RoutingTable, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, &ConfigError{
			Reason: "decode json",
			Err:    fmt.Errorf("%w: %w", ErrConfigMalformed, err),
		}
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("", "trailing data after routing array")
	}

	rows, ok := document.([]any)
	if !ok {
		return nil, malformed("", "top level must be an array")
	}

	table := &RoutingTable{routes: make(map[string][]string, len(rows))}
	for rowIndex, row := range rows {
		cells, ok := row.([]any)
		if !ok {
			return nil, malformed("", "route %d must be an array", rowIndex)
		}
		if len(cells) == 0 {
			return nil, malformed("", "route %d is empty", rowIndex)
		}

		ids := make([]string, 0, len(cells))
		for cellIndex, cell := range cells {
			id, err := parseChannelID(cell)
			if err != nil {
				return nil, malformed("", "route %d element %d: %v", rowIndex, cellIndex, err)
			}
			ids = append(ids, id)
		}
		table.routes[ids[0]] = ids[1:]
	}

	return table, nil
}

func parseChannelID(value any) (string, error) {
	number, ok := value.(json.Number)
	if !ok {
		return "", fmt.Errorf("not an integer: %v", value)
	}
	parsed, err := strconv.ParseUint(number.String(), 10, 64)
	if err != nil {
		return "", fmt.Errorf("not a non-negative integer: %s", number)
	}

	return strconv.FormatUint(parsed, 10), nil
}

// TargetsFor returns the ordered targets of a source conversation. Unknown
// sources yield an empty slice. The returned slice is a copy.
func (t *RoutingTable) TargetsFor(sourceConversationID string) []string {
	if t == nil {
		return []string{}
	}
	targets := t.routes[sourceConversationID]
	if len(targets) == 0 {
		return []string{}
	}

	return slices.Clone(targets)
}

// Sources returns the number of configured source conversations.
func (t *RoutingTable) Sources() int {
	if t == nil {
		return 0
	}

	return len(t.routes)
}
