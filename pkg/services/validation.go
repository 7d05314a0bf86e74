package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/weave/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// ValidateDefinition checks a definition against its struct tags and the graph rules.
// activeNames holds the names of the other active definitions. Every violation is
// returned; an empty result means the definition is valid.
func ValidateDefinition(v *validator.Validate, def *models.WorkflowDefinition, activeNames map[string]bool) []FieldError {
	var fields []FieldError

	add := func(field, format string, args ...any) {
		fields = append(fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	err := v.Struct(def)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fe := range validationErrors {
				add(trimNamespace(fe.Namespace()), "failed on the '%s' rule", fe.Tag())
			}
		} else {
			add("definition", "%v", err)
		}
	}

	if nulls := nullEntries(def); len(nulls) > 0 {
		for _, field := range nulls {
			if !hasField(fields, field) {
				add(field, "must not be null")
			}
		}

		return fields
	}

	if strings.TrimSpace(def.Name) == "" && !hasField(fields, "name") {
		add("name", "name is required")
	}

	if def.IsActive && activeNames[def.Name] {
		add("name", "an active workflow named %q already exists", def.Name)
	}

	if len(def.Nodes) == 0 {
		add("nodes", "workflow must have at least one node")

		return fields
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	starts, ends := 0, 0

	for i, node := range def.Nodes {
		if nodeIDs[node.ID] {
			add(fmt.Sprintf("nodes[%d].id", i), "duplicate node id %q", node.ID)
		}

		nodeIDs[node.ID] = true

		if !node.Type.Valid() {
			add(fmt.Sprintf("nodes[%d].type", i), "unknown node type %q", node.Type)
		}

		switch node.Type {
		case models.NodeTypeStart:
			starts++
		case models.NodeTypeEnd:
			ends++
		}
	}

	if starts != 1 {
		add("nodes", "workflow must have exactly one start node, found %d", starts)
	}

	if ends == 0 {
		add("nodes", "workflow must have at least one end node")
	}

	connIDs := make(map[string]bool, len(def.Connections))

	for i, conn := range def.Connections {
		if connIDs[conn.ID] {
			add(fmt.Sprintf("connections[%d].id", i), "duplicate connection id %q", conn.ID)
		}

		connIDs[conn.ID] = true

		if conn.SourceNodeID != "" && !nodeIDs[conn.SourceNodeID] {
			add(fmt.Sprintf("connections[%d].source_node_id", i), "unknown node %q", conn.SourceNodeID)
		}

		if conn.TargetNodeID != "" && !nodeIDs[conn.TargetNodeID] {
			add(fmt.Sprintf("connections[%d].target_node_id", i), "unknown node %q", conn.TargetNodeID)
		}
	}

	for i, node := range def.Nodes {
		for _, ref := range node.Inputs {
			if !connIDs[ref] {
				add(fmt.Sprintf("nodes[%d].inputs", i), "unknown connection %q", ref)
			}
		}

		for _, ref := range node.Outputs {
			if !connIDs[ref] {
				add(fmt.Sprintf("nodes[%d].outputs", i), "unknown connection %q", ref)
			}
		}
	}

	for i, trigger := range def.Triggers {
		if trigger.Type != models.TriggerTypeSchedule {
			continue
		}

		expr := trigger.CronExpression()
		if expr == "" {
			add(fmt.Sprintf("triggers[%d].config.cron", i), "schedule trigger requires a cron expression")

			continue
		}

		if _, err := cron.ParseStandard(expr); err != nil {
			add(fmt.Sprintf("triggers[%d].config.cron", i), "invalid cron expression: %v", err)
		}
	}

	return fields
}

// nullEntries names the null nodes, connections and triggers, which the graph rules
// cannot look into.
func nullEntries(def *models.WorkflowDefinition) []string {
	var fields []string

	for i, node := range def.Nodes {
		if node == nil {
			fields = append(fields, fmt.Sprintf("nodes[%d]", i))
		}
	}

	for i, conn := range def.Connections {
		if conn == nil {
			fields = append(fields, fmt.Sprintf("connections[%d]", i))
		}
	}

	for i, trigger := range def.Triggers {
		if trigger == nil {
			fields = append(fields, fmt.Sprintf("triggers[%d]", i))
		}
	}

	return fields
}

// trimNamespace drops the root struct name: "WorkflowDefinition.nodes[0].name" -> "nodes[0].name".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}

	return ns
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}

	return false
}
