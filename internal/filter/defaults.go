package filter

// DefaultSkipFolders are directory names pruned from the walk unless default
// excludes are disabled. Hidden directories are pruned as well.
var DefaultSkipFolders = []string{
	// version control
	".git", ".hg", ".svn",
	// dependency caches
	"node_modules", "vendor", "site-packages", "__pycache__", "Pods",
	// build output
	"dist", "build", "out", "bin", "obj", "target", "htmlcov", "coverage",
	"storybook-static", "DerivedData",
	// tests
	"tests", "test", "__tests__", "spec", "e2e", "cypress", "playwright",
	"test-results", "allure-results",
	// generated schema history
	"migrations",
}

// DefaultSkipExt are extensions dropped entirely: logs, databases, media,
// archives, binaries, minified bundles and ML artifacts.
var DefaultSkipExt = []string{
	".log", ".tmp", ".temp", ".coverage",
	".ini", ".cfg", ".conf", ".properties", ".env",
	".db", ".sqlite", ".sqlite3", ".db-wal", ".db-shm", ".ckpt", ".safetensors",
	".wav", ".mp3", ".flac", ".ogg", ".m4a", ".mp4", ".mov", ".avi", ".mkv", ".webm",
	".zip", ".tar", ".gz", ".rar", ".7z", ".xz", ".bz2", ".zst",
	".exe", ".dll", ".so", ".dylib", ".o", ".obj", ".a", ".lib", ".wasm", ".pyc", ".class", ".jar", ".dat",
	".bak", ".lock", ".min.js", ".min.css", ".map",
	".ipynb", ".pt", ".onnx", ".h5", ".pth", ".npz", ".npy", ".pb", ".tflite",
}

// DefaultPathOnlyExt are extensions recorded in the inventory without content.
var DefaultPathOnlyExt = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".ico", ".tiff", ".tif", ".webp", ".avif", ".heic",
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx",
}

// DefaultSkipFiles are exact file names dropped entirely (lockfiles and OS noise).
var DefaultSkipFiles = []string{
	"yarn.lock", "package-lock.json", "pnpm-lock.yaml", "poetry.lock", "Pipfile.lock",
	"Cargo.lock", "Gemfile.lock", "composer.lock", "go.sum",
	"Thumbs.db",
}

// ArtifactSuffixes mark harvest output files. They are never harvested, even
// with default excludes disabled, so a snapshot written inside the tree does
// not feed back into the next build.
var ArtifactSuffixes = []string{".harvest.json", ".harvest.jsonl", ".harvest.db"}
