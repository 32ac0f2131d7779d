package matching

// Curated family tables used to grant partial-credit similarity. Values are
// stored lowercase; lookups fold case first.

var colorFamilies = map[string]string{
	// green
	"green":        "green",
	"olive":        "green",
	"sage":         "green",
	"sage green":   "green",
	"forest green": "green",
	"hunter green": "green",
	"emerald":      "green",
	"mint":         "green",
	"khaki":        "green",
	// blue
	"blue":       "blue",
	"navy":       "blue",
	"navy blue":  "blue",
	"royal blue": "blue",
	"cobalt":     "blue",
	"denim":      "blue",
	"teal":       "blue",
	"sky blue":   "blue",
	// red
	"red":      "red",
	"crimson":  "red",
	"burgundy": "red",
	"maroon":   "red",
	"wine":     "red",
	"scarlet":  "red",
	// pink
	"pink":       "pink",
	"blush":      "pink",
	"rose":       "pink",
	"hot pink":   "pink",
	"dusty rose": "pink",
	// brown / tan
	"brown":     "brown",
	"tan":       "brown",
	"camel":     "brown",
	"chocolate": "brown",
	"mocha":     "brown",
	"taupe":     "brown",
	"beige":     "brown",
	// neutral
	"white":     "neutral",
	"ivory":     "neutral",
	"cream":     "neutral",
	"off white": "neutral",
	"ecru":      "neutral",
	// black / grey
	"black":    "dark",
	"charcoal": "dark",
	"grey":     "dark",
	"gray":     "dark",
	"slate":    "dark",
	// yellow / orange
	"yellow":  "warm",
	"mustard": "warm",
	"gold":    "warm",
	"orange":  "warm",
	"rust":    "warm",
	"coral":   "warm",
	// purple
	"purple":   "purple",
	"lavender": "purple",
	"lilac":    "purple",
	"plum":     "purple",
	"violet":   "purple",
}

var fabricFamilies = map[string]string{
	// knits
	"knit":         "knit",
	"cable knit":   "knit",
	"ribbed knit":  "knit",
	"rib knit":     "knit",
	"waffle knit":  "knit",
	"sweater knit": "knit",
	"jersey":       "knit",
	// wools
	"wool":     "wool",
	"merino":   "wool",
	"cashmere": "wool",
	"mohair":   "wool",
	"alpaca":   "wool",
	// cottons
	"cotton":         "cotton",
	"cotton blend":   "cotton",
	"organic cotton": "cotton",
	"poplin":         "cotton",
	"twill":          "cotton",
	"denim":          "cotton",
	// synthetics
	"polyester": "synthetic",
	"nylon":     "synthetic",
	"acrylic":   "synthetic",
	"spandex":   "synthetic",
	"elastane":  "synthetic",
	// sheers / drapey
	"silk":    "drape",
	"satin":   "drape",
	"chiffon": "drape",
	"rayon":   "drape",
	"viscose": "drape",
	// heavy
	"leather":  "heavy",
	"suede":    "heavy",
	"corduroy": "heavy",
	"fleece":   "heavy",
}
