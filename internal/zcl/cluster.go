package zcl

// AttributeDef names an attribute of a cluster.
type AttributeDef struct {
	ID   uint16 `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type uint8  `json:"type,omitempty" yaml:"type"`
}

// CommandDef names a cluster specific command.
type CommandDef struct {
	ID        uint8     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// ClusterDef names a cluster, its attributes and its commands.
type ClusterDef struct {
	ID         uint16         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty" yaml:"attributes"`
	Commands   []CommandDef   `json:"commands,omitempty" yaml:"commands"`
}

func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

func (c *ClusterDef) FindCommand(id uint8, dir Direction) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id && c.Commands[i].Direction == dir {
			return &c.Commands[i]
		}
	}
	return nil
}

func (c *ClusterDef) clone() *ClusterDef {
	cp := *c
	cp.Attributes = append([]AttributeDef(nil), c.Attributes...)
	cp.Commands = append([]CommandDef(nil), c.Commands...)
	return &cp
}

// merge adds the attributes and commands of other that c lacks. A non-empty
// name in other replaces the current one.
func (c *ClusterDef) merge(other *ClusterDef) {
	if other.Name != "" {
		c.Name = other.Name
	}
	for _, a := range other.Attributes {
		if c.FindAttribute(a.ID) == nil {
			c.Attributes = append(c.Attributes, a)
		}
	}
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID, cmd.Direction) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
}
