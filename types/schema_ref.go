package types

import "github.com/tzgateway/gateway/schema"

// CompiledSchemaRef aliases the compiled JSON Schema type so function,
// variant, and tool configs can hold a reference without the schema package
// needing to know about the data model.
type CompiledSchemaRef = schema.Compiled
