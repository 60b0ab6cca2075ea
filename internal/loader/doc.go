// Package loader builds flows from YAML definition files
package loader
