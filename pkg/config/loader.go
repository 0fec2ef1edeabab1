package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// RouteFilePattern matches route configuration files below a config directory.
const RouteFilePattern = "**/*-config.{yaml,yml,json}"

// Common errors for configuration loading.
var (
	ErrFileNotFound   = errors.New("configuration file not found")
	ErrEmptyFile      = errors.New("configuration file is empty")
	ErrInvalidYAML    = errors.New("invalid YAML syntax")
	ErrNoRoutes       = errors.New("no route configuration files found")
	ErrDuplicateRoute = errors.New("duplicate route")
)

//go:embed route-config.schema.json
var routeSchemaJSON string

var (
	routeSchemaOnce sync.Once
	routeSchema     *jsonschema.Schema
	routeSchemaErr  error
)

func compiledRouteSchema() (*jsonschema.Schema, error) {
	routeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("route-config.json", strings.NewReader(routeSchemaJSON)); err != nil {
			routeSchemaErr = fmt.Errorf("failed to add route schema: %w", err)
			return
		}
		routeSchema, routeSchemaErr = compiler.Compile("route-config.json")
	})
	return routeSchema, routeSchemaErr
}

// Discover returns the route configuration files under dirs, sorted for
// deterministic load order.
func Discover(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
			}
			return nil, fmt.Errorf("failed to stat config dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("config path is not a directory: %s", dir)
		}

		matches, err := doublestar.FilepathGlob(filepath.Join(dir, RouteFilePattern))
		if err != nil {
			return nil, fmt.Errorf("expanding glob pattern in %s: %w", dir, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// LoadRoutes discovers, decodes and validates every route configuration
// file under dirs. Two routes with the same base path and resource id are
// rejected.
func LoadRoutes(dirs []string) ([]*RouteConfig, error) {
	files, err := Discover(dirs)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoRoutes, strings.Join(dirs, ", "))
	}

	routes := make([]*RouteConfig, 0, len(files))
	seen := make(map[Key]string, len(files))
	for _, file := range files {
		route, err := LoadRouteFile(file)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[route.Key()]; dup {
			return nil, fmt.Errorf("%w %s/%s declared in %s and %s",
				ErrDuplicateRoute, route.BasePath, route.ResourceID, prev, file)
		}
		seen[route.Key()] = file
		routes = append(routes, route)
	}
	return routes, nil
}

// LoadRouteFile reads and validates a single route configuration file.
func LoadRouteFile(path string) (*RouteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	route, err := ParseRoute(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	route.Source = path
	route.Dir = filepath.Dir(path)
	route.normalize()
	return route, nil
}

// ParseRoute decodes and validates route configuration bytes (YAML or JSON).
// File references are left as written.
func ParseRoute(data []byte) (*RouteConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}

	var route RouteConfig
	if err := yaml.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &route, nil
}

// Validate checks a decoded route document against the route schema.
func Validate(doc any) error {
	schema, err := compiledRouteSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so YAML-decoded values have JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("route is not representable as JSON: %v", err)}
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	if err := schema.Validate(normalized); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Field: schemaField(verr), Message: leafMessage(verr)}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// normalize folds the HBase aliases into the canonical fields, applies
// defaults and resolves file references against the route's directory.
func (r *RouteConfig) normalize() {
	if r.ResourceID == "" {
		r.ResourceID = r.TableName
	}
	if r.FilterPrefix == nil {
		r.FilterPrefix = r.Prefix
	}
	r.TableName, r.Prefix = "", nil

	r.BasePath = strings.TrimSuffix(r.BasePath, "/")
	if r.ContentType == "" {
		r.ContentType = DefaultContentType
	}
	r.ResponseFile = ResolvePath(r.Dir, r.ResponseFile)
	r.ScriptFile = ResolvePath(r.Dir, r.ScriptFile)
}

// ResolvePath resolves path against baseDir unless it is empty or absolute.
func ResolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

func leafMessage(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr.Message
}

func schemaField(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	field := strings.TrimPrefix(verr.InstanceLocation, "/")
	return strings.ReplaceAll(field, "/", ".")
}
