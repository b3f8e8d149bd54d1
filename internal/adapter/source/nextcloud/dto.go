package nextcloud

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strconv"
	"strings"
)

// ocsMeta is the status block of every OCS response
type ocsMeta struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statuscode"`
	Message    string `json:"message"`
}

// ocsResponse wraps an OCS payload
type ocsResponse struct {
	OCS struct {
		Meta ocsMeta         `json:"meta"`
		Data json.RawMessage `json:"data"`
	} `json:"ocs"`
}

// UserInfo is the subset of /cloud/user the client needs
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display-name"`
	Email       string `json:"email"`
}

// Groupfolder is one entry of the groupfolders app listing
type Groupfolder struct {
	ID         flexInt         `json:"id"`
	MountPoint string          `json:"mount_point"`
	Groups     json.RawMessage `json:"groups"`
	Quota      flexInt         `json:"quota"`
	Size       flexInt         `json:"size"`
	ACL        bool            `json:"acl"`
	Manage     []Manager       `json:"manage"`
}

// Manager is an ACL manager of a group folder
type Manager struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"displayname"`
}

// ServerStatus is the response of status.php
type ServerStatus struct {
	Installed     bool   `json:"installed"`
	Maintenance   bool   `json:"maintenance"`
	Version       string `json:"version"`
	VersionString string `json:"versionstring"`
	ProductName   string `json:"productname"`
}

// flexInt decodes numbers the server sometimes sends as strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// propfindBody requests the properties mapped into domain.MediaItem
const propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
  <d:prop>
    <d:getlastmodified/>
    <d:getetag/>
    <d:getcontenttype/>
    <d:getcontentlength/>
    <d:resourcetype/>
    <oc:id/>
    <oc:fileid/>
    <oc:permissions/>
    <oc:favorite/>
    <oc:size/>
  </d:prop>
</d:propfind>`

// multistatus is a WebDAV 207 response
type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string        `xml:"DAV: href"`
	Propstat []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	LastModified  string          `xml:"DAV: getlastmodified"`
	ETag          string          `xml:"DAV: getetag"`
	ContentType   string          `xml:"DAV: getcontenttype"`
	ContentLength int64           `xml:"DAV: getcontentlength"`
	ResourceType  davResourceType `xml:"DAV: resourcetype"`
	ID            string          `xml:"http://owncloud.org/ns id"`
	FileID        string          `xml:"http://owncloud.org/ns fileid"`
	Permissions   string          `xml:"http://owncloud.org/ns permissions"`
	Favorite      int             `xml:"http://owncloud.org/ns favorite"`
	Size          int64           `xml:"http://owncloud.org/ns size"`
}

type davResourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// prop returns the properties of the successful propstat
func (r davResponse) prop() (davProp, bool) {
	for _, ps := range r.Propstat {
		if ps.Status == "" || strings.Contains(ps.Status, " 200 ") {
			return ps.Prop, true
		}
	}
	return davProp{}, false
}
