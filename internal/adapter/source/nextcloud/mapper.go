package nextcloud

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/mmcdole/kinoview/internal/domain"
)

// MapGroupfolders converts the OCS data block into domain group folders.
// The server returns an object keyed by folder id, or an empty array.
func MapGroupfolders(data json.RawMessage) ([]domain.GroupFolder, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var list []Groupfolder
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
	} else {
		var byID map[string]Groupfolder
		if err := json.Unmarshal(data, &byID); err != nil {
			return nil, err
		}
		for _, gf := range byID {
			list = append(list, gf)
		}
	}

	folders := make([]domain.GroupFolder, 0, len(list))
	for _, gf := range list {
		folders = append(folders, mapGroupfolder(gf))
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	return folders, nil
}

func mapGroupfolder(gf Groupfolder) domain.GroupFolder {
	folder := domain.GroupFolder{
		ID:         int64(gf.ID),
		MountPoint: gf.MountPoint,
		Quota:      int64(gf.Quota),
		Size:       int64(gf.Size),
		ACL:        gf.ACL,
		Groups:     map[string]int{},
	}
	// groups is an empty array when no group has access
	var groups map[string]json.RawMessage
	if err := json.Unmarshal(gf.Groups, &groups); err == nil {
		for name, raw := range groups {
			var perms flexInt
			if err := json.Unmarshal(raw, &perms); err != nil {
				// newer servers send {"displayName":..., "permissions":...}
				var detailed struct {
					Permissions flexInt `json:"permissions"`
				}
				_ = json.Unmarshal(raw, &detailed)
				perms = detailed.Permissions
			}
			folder.Groups[name] = int(perms)
		}
	}
	for _, m := range gf.Manage {
		folder.Manage = append(folder.Manage, domain.GroupManager{Type: m.Type, ID: m.ID, DisplayName: m.DisplayName})
	}
	return folder
}

// MapMultistatus converts a PROPFIND response for requestURL into items.
// requestURL is unescaped; the requested resource is returned first.
func MapMultistatus(ms multistatus, requestURL, account string) []domain.MediaItem {
	requestPath := requestPathOf(requestURL)
	parentURL, ownName := splitURL(requestURL)

	var self *domain.MediaItem
	children := make([]domain.MediaItem, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		prop, ok := r.prop()
		if !ok {
			continue
		}
		hrefPath := hrefPathOf(r.Href)
		if hrefPath == requestPath {
			item := mapProp(prop, account, parentURL, ownName)
			self = &item
			continue
		}
		children = append(children, mapProp(prop, account, strings.TrimRight(requestURL, "/"), path.Base(hrefPath)))
	}

	if self == nil {
		return children
	}
	return append([]domain.MediaItem{*self}, children...)
}

func mapProp(p davProp, account, serverURL, fileName string) domain.MediaItem {
	item := domain.MediaItem{
		ID:          p.ID,
		FileID:      p.FileID,
		Account:     account,
		ServerURL:   serverURL,
		FileName:    fileName,
		ContentType: p.ContentType,
		Size:        p.ContentLength,
		ETag:        strings.Trim(p.ETag, `"`),
		Directory:   p.ResourceType.Collection != nil,
		Favorite:    p.Favorite == 1,
		Permissions: p.Permissions,
	}
	if item.Directory {
		item.Class = domain.ClassDirectory
		item.Size = p.Size
	} else {
		item.Class = domain.ClassFromContentType(p.ContentType)
	}
	if t, err := http.ParseTime(p.LastModified); err == nil {
		item.Date = t
	}
	return item
}

// hrefPathOf returns the unescaped path of an href without trailing slash
func hrefPathOf(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	} else if p, err := url.PathUnescape(href); err == nil {
		href = p
	}
	return strings.TrimRight(href, "/")
}

// requestPathOf returns the path component of an unescaped URL
func requestPathOf(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return strings.TrimRight(rest[j:], "/")
		}
		return ""
	}
	return strings.TrimRight(raw, "/")
}

// splitURL splits an unescaped URL into parent URL and last segment
func splitURL(raw string) (string, string) {
	raw = strings.TrimRight(raw, "/")
	i := strings.LastIndex(raw, "/")
	if i < 0 {
		return "", raw
	}
	return raw[:i], raw[i+1:]
}
