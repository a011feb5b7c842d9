package identity

// Family is the OS partition every platform-specific field is drawn from.
type Family string

const (
	FamilyWindows Family = "windows"
	FamilyMac     Family = "mac"
	FamilyLinux   Family = "linux"
)

const (
	PlatformWindows = "Win32"
	PlatformMac     = "MacIntel"
	PlatformLinux   = "Linux x86_64"
)

var resolutions = []Size{
	{1920, 1080}, {2560, 1440}, {1366, 768}, {1536, 864}, {1440, 900},
}

var hardwareConcurrencies = []int{4, 8, 12, 16}

var deviceMemories = []int{2, 4, 8}

var defaultChromeVersions = []string{
	"120.0.0.0", "121.0.0.0", "122.0.0.0", "123.0.0.0", "124.0.0.0", "125.0.0.0",
}

const (
	minFonts = 15
	maxFonts = 24
)

var webglTable = map[Family][]WebGL{
	FamilyWindows: {
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1080 Ti Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 SUPER Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	},
	FamilyMac: {
		{"Google Inc. (Apple)", "ANGLE (Apple, Apple M1 Pro, OpenGL 4.1)"},
		{"Google Inc. (Apple)", "ANGLE (Apple, Apple M2, OpenGL 4.1)"},
		{"Google Inc. (Intel)", "ANGLE (Intel Inc., Intel(R) Iris(TM) Plus Graphics 655, OpenGL 4.1)"},
	},
	FamilyLinux: {
		{"Google Inc. (NVIDIA Corporation)", "ANGLE (NVIDIA Corporation, NVIDIA GeForce GTX 1080/PCIe/SSE2, OpenGL 4.6.0)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Mesa Intel(R) UHD Graphics 620, OpenGL 4.6)"},
	},
}

var fontTable = map[Family][]string{
	FamilyWindows: {
		"Arial", "Arial Black", "Arial Narrow", "Book Antiqua", "Bookman Old Style",
		"Calibri", "Cambria", "Cambria Math", "Century", "Century Gothic",
		"Comic Sans MS", "Consolas", "Courier", "Courier New", "Georgia",
		"Impact", "Lucida Console", "Lucida Sans Unicode",
		"Microsoft Sans Serif", "Palatino Linotype", "Segoe UI", "Tahoma",
		"Times", "Times New Roman", "Trebuchet MS", "Verdana", "Wingdings",
	},
	FamilyMac: {
		"American Typewriter", "Arial", "Arial Black", "Arial Narrow", "Avenir",
		"Courier", "Courier New", "Georgia", "Helvetica", "Helvetica Neue",
		"Menlo", "Monaco", "Optima", "Palatino", "Times", "Times New Roman",
		"Trebuchet MS", "Verdana",
	},
	FamilyLinux: {
		"DejaVu Sans", "DejaVu Sans Mono", "DejaVu Serif",
		"Liberation Sans", "Liberation Sans Narrow", "Liberation Mono", "Liberation Serif",
		"Noto Sans", "Noto Sans Mono", "Noto Serif",
		"Ubuntu", "Ubuntu Condensed", "Ubuntu Mono",
		"Cantarell", "Arial", "Courier New", "Times New Roman",
	},
}

// uaTemplates take the Chrome version as their only verb.
var uaTemplates = map[Family]string{
	FamilyWindows: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
	FamilyMac:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
	FamilyLinux:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
}

// WebGLCandidates returns the WebGL table for a family.
func WebGLCandidates(f Family) []WebGL { return webglTable[f] }

// FontCatalog returns the candidate font catalog for a family.
func FontCatalog(f Family) []string { return fontTable[f] }
