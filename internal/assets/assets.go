package assets

import (
	_ "embed"
)

// InjectScript is the page-context payload. It expects to be wrapped as a
// function body receiving (fp, label, watermark).
//
//go:embed inject.js
var InjectScript string
