package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/getmockd/imposter/pkg/config"
	"gopkg.in/yaml.v3"
)

// ErrNoDataset is returned when a route has no dataset file.
var ErrNoDataset = errors.New("route has no response file")

// Record is one dataset entry: field name to rendered value.
type Record map[string]string

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dataset is an ordered, 0-indexed sequence of records.
type Dataset []Record

// DatasetLoader loads the dataset behind a route.
type DatasetLoader interface {
	// Load reads file, or the route's response file when file is empty.
	Load(ctx context.Context, route *config.RouteConfig, file string) (Dataset, error)
}

// FileLoader reads datasets from JSON or YAML files holding an array of
// objects. Files ending in .yaml or .yml are decoded as YAML, anything
// else as JSON.
type FileLoader struct{}

var _ DatasetLoader = FileLoader{}

// Load implements DatasetLoader.
func (FileLoader) Load(_ context.Context, route *config.RouteConfig, file string) (Dataset, error) {
	if file == "" {
		file = route.ResponseFile
	}
	if file == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDataset, route.ResourceID)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	return ParseDataset(data, filepath.Ext(file))
}

// ParseDataset decodes an array of objects. ext selects the format.
func ParseDataset(data []byte, ext string) (Dataset, error) {
	var raw []map[string]any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing dataset: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing dataset: %w", err)
		}
	}

	ds := make(Dataset, 0, len(raw))
	for i, obj := range raw {
		if obj == nil {
			return nil, fmt.Errorf("parsing dataset: entry %d is not an object", i)
		}
		rec := make(Record, len(obj))
		for k, v := range obj {
			rec[k] = renderValue(v)
		}
		ds = append(ds, rec)
	}
	return ds, nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
