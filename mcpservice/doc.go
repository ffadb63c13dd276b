// Package mcpservice holds the tool and resource registries and the server
// container the dispatcher routes against. Registries are built once at
// startup from a fixed list of definitions; duplicate names or URIs are
// construction errors so configuration mistakes surface before the server
// accepts any connection. There is no runtime registration.
//
// Tool input schemas are reflected from Go argument structs with
// invopop/jsonschema, and arguments are decoded strictly: unknown fields are
// rejected as invalid arguments.
package mcpservice
