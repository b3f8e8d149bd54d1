package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// FileClass classifies a file by what the viewer can do with it
type FileClass string

const (
	ClassVideo     FileClass = "video"
	ClassAudio     FileClass = "audio"
	ClassImage     FileClass = "image"
	ClassDocument  FileClass = "document"
	ClassDirectory FileClass = "directory"
	ClassUnknown   FileClass = "unknown"
)

// ClassFromContentType maps a MIME type to a FileClass
func ClassFromContentType(contentType string) FileClass {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "httpd/unix-directory":
		return ClassDirectory
	case strings.HasPrefix(ct, "video/"):
		return ClassVideo
	case strings.HasPrefix(ct, "audio/"):
		return ClassAudio
	case strings.HasPrefix(ct, "image/"):
		return ClassImage
	case ct == "":
		return ClassUnknown
	default:
		return ClassDocument
	}
}

// MediaItem is one file or directory on the server, as seen by the viewer
type MediaItem struct {
	ID          string    // Server-side stable identifier (ocId)
	FileID      string    // Numeric file id
	Account     string    // Account the item belongs to ("user https://host")
	ServerURL   string    // WebDAV URL of the parent directory
	FileName    string    // Name inside ServerURL
	Class       FileClass // Playback classification
	ContentType string    // MIME type reported by the server
	Size        int64     // Size in bytes
	ETag        string    // Server etag, changes with content
	LivePhoto   bool      // Member of a still + short clip pair
	Directory   bool      // Item is a collection
	Favorite    bool      // Starred by the user
	Permissions string    // Server permission letters
	Date        time.Time // Last modification
}

// SameItem reports whether two items refer to the same server object
func (m MediaItem) SameItem(other MediaItem) bool {
	return m.ID != "" && m.ID == other.ID && m.Account == other.Account
}

// RemoteURL returns the absolute WebDAV URL of the item
func (m MediaItem) RemoteURL() string {
	if m.ServerURL == "" || m.FileName == "" {
		return ""
	}
	return EscapeURLPath(m.ServerURLFileName())
}

// EscapeURLPath percent-encodes every path segment of an unescaped URL
func EscapeURLPath(raw string) string {
	prefix, rest := "", raw
	if i := strings.Index(raw, "://"); i >= 0 {
		j := strings.Index(raw[i+3:], "/")
		if j < 0 {
			return raw
		}
		prefix, rest = raw[:i+3+j], raw[i+3+j:]
	}
	segments := strings.Split(rest, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return prefix + strings.Join(segments, "/")
}

// ServerURLFileName returns the unescaped URL of the item, used as the
// ServerURL of its children when the item is a directory
func (m MediaItem) ServerURLFileName() string {
	if m.FileName == "" {
		return strings.TrimRight(m.ServerURL, "/")
	}
	return strings.TrimRight(m.ServerURL, "/") + "/" + m.FileName
}

// IsPlayable returns true if the item can be streamed to the player
func (m MediaItem) IsPlayable() bool {
	return !m.Directory && (m.Class == ClassVideo || m.Class == ClassAudio)
}

// IsHidden returns true for dot files
func (m MediaItem) IsHidden() bool {
	return strings.HasPrefix(m.FileName, ".")
}

// BaseName returns the file name without its extension
func (m MediaItem) BaseName() string {
	return strings.TrimSuffix(m.FileName, path.Ext(m.FileName))
}

// Position is the last watched offset and known duration of an item
type Position struct {
	Offset   time.Duration
	Duration time.Duration
}

// GroupFolder is an admin-managed folder shared with groups
type GroupFolder struct {
	ID         int64          `json:"id"`
	MountPoint string         `json:"mount_point"`
	Groups     map[string]int `json:"groups"`
	Quota      int64          `json:"quota"`
	Size       int64          `json:"size"`
	ACL        bool           `json:"acl"`
	Manage     []GroupManager `json:"manage,omitempty"`
}

// GroupManager is an entity allowed to manage a group folder's ACL
type GroupManager struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"displayname"`
}

// NormalizedMountPoint returns the mount point with a leading slash
func (g GroupFolder) NormalizedMountPoint() string {
	if strings.HasPrefix(g.MountPoint, "/") {
		return g.MountPoint
	}
	return "/" + g.MountPoint
}

// Credentials authenticate requests made on behalf of the user
type Credentials struct {
	User      string
	Password  string
	UserAgent string
}

// IsZero returns true if no user is set
func (c Credentials) IsZero() bool {
	return c.User == ""
}

// RenderTarget is a visual surface borrowed from the caller for video output
type RenderTarget struct {
	Title  string
	Width  int
	Height int
}

// Bounds returns the surface size
func (r RenderTarget) Bounds() (int, int) {
	return r.Width, r.Height
}
