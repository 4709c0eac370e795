package token

// buildVocabulary returns the fixed, curated word list tokens are
// drawn from: short (3-9 letters), common, lowercase, and chosen to
// avoid visually similar pairs (no "1"/"l"/"I" confusion since digits
// and uppercase never appear at all).
func buildVocabulary() []string {
	return []string{
		"ocean", "tiger", "amber", "birch", "cedar", "coral", "delta", "eagle",
		"ember", "fable", "flint", "frost", "gecko", "glade", "grove", "haven",
		"heron", "holly", "ivory", "jade", "karst", "kelp", "lilac", "lotus",
		"lunar", "lynx", "maple", "marsh", "mesa", "mint", "moss", "myrtle",
		"nectar", "nova", "oasis", "olive", "onyx", "opal", "otter", "owl",
		"panda", "peach", "pearl", "pebble", "petal", "pine", "plum", "quail",
		"quartz", "quill", "rain", "raven", "reef", "ridge", "river", "robin",
		"rose", "sable", "sage", "sand", "shale", "shore", "slate", "sloth",
		"smoke", "sol", "spark", "spruce", "storm", "swan", "tide", "timber",
		"topaz", "trail", "trout", "tundra", "tusk", "umber", "valley", "vine",
		"violet", "walnut", "wave", "willow", "wolf", "wren", "zephyr", "acorn",
		"alder", "anchor", "arbor", "ash", "aspen", "atlas", "aurora", "badger",
		"basil", "bay", "beacon", "berry", "birchwood", "bison", "blaze", "bloom",
		"bluff", "boulder", "brook", "bramble", "briar", "brine", "bronze", "canyon",
		"cape", "cascade", "cave", "cliff", "clover", "cobalt", "comet", "copper",
		"cove", "crane", "creek", "crest", "crow", "current", "cypress", "dawn",
		"deer", "den", "dew", "dove", "dune", "dusk", "eddy", "elm",
		"egret", "falcon", "fawn", "fern", "field", "finch", "fir", "fjord",
		"flame", "fog", "forge", "fox", "garnet", "glacier", "glen", "goose",
		"granite", "grass", "gull", "gust", "hawk", "hazel", "hedge", "hickory",
		"hollow", "hornet", "hush", "ibex", "iris", "islet", "ivy", "jasper",
		"juniper", "kestrel", "knoll", "lagoon", "lark", "leaf", "ledge", "lichen",
		"linden", "loch", "loon", "lupine", "magma", "magpie", "meadow", "mica",
		"mallow", "mirage", "mirror", "misty", "moor", "moth", "mulberry", "night",
		"noon", "north", "oak", "oriole", "orchid", "osprey", "palm", "pampas",
		"parrot", "pasture", "path", "peak", "pike", "plain", "plateau", "pond",
		"poplar", "prairie", "quay", "quiver", "ray", "reed", "relic", "rift",
		"ripple", "rook", "rust", "rye", "saffron", "sapling", "savanna", "sequoia",
		"shell", "shrike", "silver", "skiff", "sky", "slope", "snow", "sparrow",
		"spire", "spring", "sprout", "squall", "stag", "starling", "stone", "stork",
		"stream", "summit", "sunrise", "swallow", "sycamore", "talon", "tern", "thicket",
		"thistle", "thorn", "thrush", "thunder", "tidal", "torrent", "tower", "tarn",
		"turtle", "twig", "vale", "vapor", "veld", "vista", "warbler", "waterfall",
		"weir", "wharf", "wheat", "whisk", "wick", "wisp", "wood", "yarrow",
	}
}
