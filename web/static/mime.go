// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package static

var defaultMimeTypes = map[string]string{
	"7z":    "application/x-7z-compressed",
	"atom":  "application/atom+xml",
	"avif":  "image/avif",
	"bin":   "application/octet-stream",
	"bmp":   "image/bmp",
	"css":   "text/css; charset=utf-8",
	"csv":   "text/csv; charset=utf-8",
	"gif":   "image/gif",
	"gz":    "application/gzip",
	"htm":   "text/html; charset=utf-8",
	"html":  "text/html; charset=utf-8",
	"ico":   "image/x-icon",
	"jpeg":  "image/jpeg",
	"jpg":   "image/jpeg",
	"js":    "text/javascript; charset=utf-8",
	"json":  "application/json",
	"map":   "application/json",
	"md":    "text/markdown; charset=utf-8",
	"mjs":   "text/javascript; charset=utf-8",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"otf":   "font/otf",
	"pdf":   "application/pdf",
	"png":   "image/png",
	"rss":   "application/rss+xml",
	"svg":   "image/svg+xml",
	"tar":   "application/x-tar",
	"toml":  "application/toml",
	"ttf":   "font/ttf",
	"txt":   "text/plain; charset=utf-8",
	"wasm":  "application/wasm",
	"webm":  "video/webm",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"xml":   "application/xml",
	"yaml":  "application/yaml",
	"yml":   "application/yaml",
	"zip":   "application/zip",
}
