// Package config loads the process configuration of a Sensei node from YAML.
//
// Defaults are applied before validation, so a minimal file only names the
// node, its partitions and where the index lives:
//
//	node:
//	  id: 1
//	  partitions: [0, 1, 2]
//	index:
//	  directory: /var/lib/sensei
package config
