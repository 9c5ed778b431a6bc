package defaults

import _ "embed"

//go:embed rules.yaml
var Rules []byte
