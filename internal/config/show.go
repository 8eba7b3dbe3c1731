// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// YAML renders the redacted configuration in declaration order, with
// durations in their string form.
func (c *Config) YAML() ([]byte, error) {
	redactedCfg := c.Redacted()
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{toNode(reflect.ValueOf(redactedCfg))}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	return out, nil
}

func toNode(v reflect.Value) *yaml.Node {
	if v.Type() == durationType {
		return scalar(time.Duration(v.Int()).String(), "!!str")
	}

	switch v.Kind() {
	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := range t.NumField() {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				continue
			}
			node.Content = append(node.Content, scalar(name, "!!str"), toNode(v.Field(i)))
		}
		return node
	case reflect.Slice:
		node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for i := range v.Len() {
			node.Content = append(node.Content, toNode(v.Index(i)))
		}
		return node
	case reflect.String:
		return scalar(v.String(), "!!str")
	case reflect.Bool:
		return scalar(strconv.FormatBool(v.Bool()), "!!bool")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return scalar(strconv.FormatInt(v.Int(), 10), "!!int")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return scalar(strconv.FormatUint(v.Uint(), 10), "!!int")
	}
	return scalar(v.String(), "!!str")
}

func scalar(value, tag string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
