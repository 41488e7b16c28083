package apispec

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the document's top-level fields and the shape of its
// endpoint tree. Documents decoded through FromMap are already valid; this
// is for documents assembled in code.
func Validate(doc *Document) error {
	if doc == nil {
		return &ConfigError{Reason: "document is nil"}
	}
	if err := validatorInstance().Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Path: fe.Field(), Reason: "failed " + fe.Tag() + " check"}
		}
		return &ConfigError{Err: err}
	}
	return validateTree(doc.Endpoints, "")
}

func validateTree(nodes map[string]*Node, prefix string) error {
	for _, key := range sortedKeys(nodes) {
		node := nodes[key]
		path := joinPath(prefix, key)
		switch {
		case node == nil, node.Endpoint == nil && node.Children == nil:
			return &ConfigError{Path: path, Reason: "node is empty"}
		case node.Endpoint != nil && node.Children != nil:
			return &ConfigError{Path: path, Reason: "node is both an endpoint and a group"}
		case node.Endpoint != nil:
			if strings.TrimSpace(node.Endpoint.Method) == "" {
				return &ConfigError{Path: joinPath(path, "method"), Reason: "must be a non-empty string"}
			}
		default:
			if err := validateTree(node.Children, path); err != nil {
				return err
			}
		}
	}
	return nil
}
