package ratelimit

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"window-limiter/internal/common/errors"
	"window-limiter/internal/common/validation"
)

// RouteRule binds a policy to one method and path.
type RouteRule struct {
	Method   string   `yaml:"method" json:"method" validate:"required,http_method"`
	Path     string   `yaml:"path" json:"path" validate:"required,route_path"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Policy   string   `yaml:"policy" json:"policy" validate:"required,ratepolicy"`
}

// RouteTable is the document format of a policy file.
type RouteTable struct {
	Routes []RouteRule `yaml:"routes" json:"routes" validate:"required,min=1,dive"`
}

var routeValidator = newRouteValidator()

func newRouteValidator() *validation.CentralizedValidator {
	v := validation.NewCentralizedValidator()
	err := v.RegisterValidation("ratepolicy", func(value string) bool {
		_, err := ParsePolicy(value)
		return err == nil
	}, "field '%s' must be a rate limit policy such as 5/m;20/h")
	if err != nil {
		panic(fmt.Sprintf("register ratepolicy validation: %v", err))
	}
	return v
}

// DefaultRoutes are the account endpoints and their quotas.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{Method: "POST", Path: "/users/register", Strategy: ByIP, Policy: "3/m;10/h;20/d"},
		{Method: "POST", Path: "/users/verify-email", Strategy: ByIP, Policy: "5/m;20/h"},
		{Method: "POST", Path: "/users/check-code", Strategy: ByIP, Policy: "5/m;20/h"},
		{Method: "POST", Path: "/users/resend-otp", Strategy: ByIP, Policy: "2/m;5/h"},
		{Method: "POST", Path: "/users/login", Strategy: ByIP, Policy: "5/m;20/h;50/d"},
		{Method: "POST", Path: "/users/refresh", Strategy: ByIP, Policy: "10/m;100/h"},
		{Method: "GET", Path: "/users/me", Strategy: ByUser, Policy: "60/m;1000/h"},
		{Method: "GET", Path: "/ping", Strategy: ByIP, Policy: "30/s;200/m;3000/h"},
	}
}

// ValidateRoutes checks every rule and rejects duplicate method/path pairs.
func ValidateRoutes(routes []RouteRule) error {
	if err := routeValidator.ValidateStruct(RouteTable{Routes: routes}); err != nil {
		return err
	}

	ids := lo.Map(routes, func(route RouteRule, _ int) string {
		return strings.ToUpper(route.Method) + " " + route.Path
	})
	if dups := lo.FindDuplicates(ids); len(dups) > 0 {
		return errors.ValidationError(fmt.Sprintf("duplicate rate limit route %s", strings.Join(dups, ", ")))
	}
	return nil
}

// ParseRoutes decodes a YAML route table. Unknown fields are rejected.
func ParseRoutes(data []byte) ([]RouteRule, error) {
	var table RouteTable
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&table); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("failed to parse rate limit routes: %v", err))
	}

	if err := ValidateRoutes(table.Routes); err != nil {
		return nil, err
	}
	return table.Routes, nil
}

// LoadRoutes reads a route table from path, or returns DefaultRoutes when path is empty.
func LoadRoutes(path string) ([]RouteRule, error) {
	if path == "" {
		return DefaultRoutes(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("failed to read rate limit routes from %s: %v", path, err))
	}
	return ParseRoutes(data)
}
