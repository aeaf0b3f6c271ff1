package compute

import (
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// KeyValue is a container environment entry
type KeyValue struct {
	Name  string
	Value string
}

// ContainerDefinition is the mutable part of a container in a task definition
type ContainerDefinition struct {
	Name        string
	Image       string
	Environment []KeyValue
}

// TaskDefinition is a registered revision of a task/container definition.
// Fields the activities do not change travel in source and are re-sent on
// registration.
type TaskDefinition struct {
	ARN        string
	Family     string
	Revision   int32
	Containers []ContainerDefinition

	source *types.TaskDefinition
}

// Clone returns a deep copy suitable for registering as a new revision
func (td *TaskDefinition) Clone() *TaskDefinition {
	clone := &TaskDefinition{
		Family: td.Family,
		source: td.source,
	}
	for _, c := range td.Containers {
		env := make([]KeyValue, len(c.Environment))
		copy(env, c.Environment)
		clone.Containers = append(clone.Containers, ContainerDefinition{
			Name:        c.Name,
			Image:       c.Image,
			Environment: env,
		})
	}
	return clone
}

// Container returns the named container, or the first one when name is
// empty. It returns nil when there is no match.
func (td *TaskDefinition) Container(name string) *ContainerDefinition {
	for i := range td.Containers {
		if name == "" || td.Containers[i].Name == name {
			return &td.Containers[i]
		}
	}
	return nil
}

// SetEnv sets name to value, replacing an existing entry of the same name
func (c *ContainerDefinition) SetEnv(name, value string) {
	for i := range c.Environment {
		if c.Environment[i].Name == name {
			c.Environment[i].Value = value
			return
		}
	}
	c.Environment = append(c.Environment, KeyValue{Name: name, Value: value})
}

// Env returns the value of name and whether it is set
func (c *ContainerDefinition) Env(name string) (string, bool) {
	for _, kv := range c.Environment {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}
