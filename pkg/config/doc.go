// Package config loads the server settings and the per-resource route
// configuration files consumed by the plugins.
//
// Route configuration files are discovered under each configuration
// directory by the pattern **/*-config.{yaml,yml,json}. Each file declares one
// mocked resource:
//
//	plugin: hbase
//	basePath: /hbase
//	tableName: exampleTable
//	prefix: fruit
//	responseFile: exampleTable-data.json
//	scriptFile: exampleTable.js
//
// Files are decoded with yaml.v3 (JSON is accepted as YAML) and validated
// against an embedded JSON Schema before they are turned into RouteConfig
// values. Relative file references resolve against the directory of the
// configuration file.
package config
