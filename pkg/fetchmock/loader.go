package fetchmock

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// routesFile is the YAML document shape accepted by LoadRoutes.
type routesFile struct {
	Routes []routeDefinition `yaml:"routes"`
}

// routeDefinition is one declarative route entry.
type routeDefinition struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Query   map[string]string `yaml:"query"`
	Params  map[string]string `yaml:"params"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`

	Status          int               `yaml:"status"`
	ResponseHeaders map[string]string `yaml:"response_headers"`
	ResponseBody    any               `yaml:"response_body"`
	DelayMS         int               `yaml:"delay_ms"`
}

// LoadRoutes registers the routes declared in a YAML document. Each entry
// pairs a request pattern (method, url, optional query/params/headers/body)
// with a literal response (status, optional headers/body/delay_ms).
func (s *MockServer) LoadRoutes(data []byte) error {
	var file routesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.Wrap(err, "failed to parse routes document")
	}
	if len(file.Routes) == 0 {
		return errors.New("routes document declares no routes")
	}

	for i, definition := range file.Routes {
		if err := s.loadRoute(definition); err != nil {
			return errors.Wrapf(err, "invalid route at index %d", i)
		}
	}
	return nil
}

// LoadRoutesFile reads a YAML route file from disk and registers its routes.
func (s *MockServer) LoadRoutesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read routes file %s", path)
	}
	return errors.Wrapf(s.LoadRoutes(data), "failed to load routes from %s", path)
}

// loadRoute converts one definition into a registered route.
func (s *MockServer) loadRoute(definition routeDefinition) error {
	if definition.DelayMS < 0 {
		return errors.Errorf("delay_ms must not be negative, got %d", definition.DelayMS)
	}

	pattern := RequestPattern{
		Method:  definition.Method,
		URL:     definition.URL,
		Query:   definition.Query,
		Params:  definition.Params,
		Headers: definition.Headers,
	}
	if definition.Body != "" {
		pattern.Body = definition.Body
	}

	status := definition.Status
	if status == 0 {
		status = 200
	}

	response := ResponsePattern{
		Status:  status,
		Headers: definition.ResponseHeaders,
		Body:    definition.ResponseBody,
		Delay:   time.Duration(definition.DelayMS) * time.Millisecond,
	}
	return s.Route(pattern, response)
}
