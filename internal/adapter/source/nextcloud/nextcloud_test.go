package nextcloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mmcdole/kinoview/internal/domain"
)

var _ domain.LibraryRepository = (*Client)(nil)
var _ domain.AuthFlow = (*AuthFlow)(nil)

const folderListing = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
 <d:response>
  <d:href>/remote.php/dav/files/alice/Media/</d:href>
  <d:propstat>
   <d:prop>
    <d:getlastmodified>Mon, 02 Jan 2006 15:04:05 GMT</d:getlastmodified>
    <d:getetag>"5f1"</d:getetag>
    <d:resourcetype><d:collection/></d:resourcetype>
    <oc:id>00000010oc</oc:id>
    <oc:fileid>10</oc:fileid>
    <oc:permissions>RGDNVCK</oc:permissions>
    <oc:favorite>1</oc:favorite>
    <oc:size>3072</oc:size>
   </d:prop>
   <d:status>HTTP/1.1 200 OK</d:status>
  </d:propstat>
  <d:propstat>
   <d:prop><d:getcontentlength/><d:getcontenttype/></d:prop>
   <d:status>HTTP/1.1 404 Not Found</d:status>
  </d:propstat>
 </d:response>
 <d:response>
  <d:href>/remote.php/dav/files/alice/Media/clip%20one.mp4</d:href>
  <d:propstat>
   <d:prop>
    <d:getlastmodified>Tue, 03 Jan 2006 10:00:00 GMT</d:getlastmodified>
    <d:getetag>"a1b2"</d:getetag>
    <d:getcontenttype>video/mp4</d:getcontenttype>
    <d:getcontentlength>2048</d:getcontentlength>
    <d:resourcetype/>
    <oc:id>00000011oc</oc:id>
    <oc:fileid>11</oc:fileid>
    <oc:permissions>RGDNVW</oc:permissions>
    <oc:favorite>0</oc:favorite>
   </d:prop>
   <d:status>HTTP/1.1 200 OK</d:status>
  </d:propstat>
 </d:response>
 <d:response>
  <d:href>/remote.php/dav/files/alice/Media/Trips/</d:href>
  <d:propstat>
   <d:prop>
    <d:getetag>"c3"</d:getetag>
    <d:resourcetype><d:collection/></d:resourcetype>
    <oc:id>00000012oc</oc:id>
    <oc:fileid>12</oc:fileid>
    <oc:size>1024</oc:size>
   </d:prop>
   <d:status>HTTP/1.1 200 OK</d:status>
  </d:propstat>
 </d:response>
</d:multistatus>`

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "alice", "app-pass", "", nil)
	c.retryDelay = 0
	return srv, c
}

func TestReadFileOrFolder(t *testing.T) {
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != "PROPFIND" || r.Header.Get("Depth") != "1" {
			t.Errorf("unexpected request %s depth=%q", r.Method, r.Header.Get("Depth"))
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte("oc:fileid")) {
			t.Errorf("propfind body missing properties: %s", body)
		}
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, folderListing)
	})

	home := c.HomeServerURL()
	if home != srv.URL+"/remote.php/dav/files/alice" {
		t.Fatalf("HomeServerURL() = %q", home)
	}

	items, err := c.ReadFileOrFolder(context.Background(), home+"/Media", domain.DepthChildren)
	if err != nil {
		t.Fatalf("ReadFileOrFolder() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	self := items[0]
	if self.ID != "00000010oc" || !self.Directory || self.ServerURL != home || self.FileName != "Media" {
		t.Fatalf("self = %+v", self)
	}
	if !self.Favorite || self.Size != 3072 || self.ETag != "5f1" {
		t.Fatalf("self props = %+v", self)
	}

	clip := items[1]
	if clip.FileName != "clip one.mp4" || clip.ServerURL != home+"/Media" {
		t.Fatalf("clip location = %q %q", clip.ServerURL, clip.FileName)
	}
	if clip.Class != domain.ClassVideo || clip.Size != 2048 || clip.Account != c.Account() {
		t.Fatalf("clip = %+v", clip)
	}
	if clip.Date.Day() != 3 {
		t.Fatalf("clip date = %v", clip.Date)
	}
	if !clip.IsPlayable() {
		t.Fatalf("clip should be playable")
	}

	if trips := items[2]; trips.FileName != "Trips" || trips.Class != domain.ClassDirectory {
		t.Fatalf("trips = %+v", trips)
	}
}

func TestReadFileOrFolderEscapesPath(t *testing.T) {
	var gotPath atomic.Value
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.EscapedPath())
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
<d:response><d:href>/remote.php/dav/files/alice/My%20Films</d:href>
<d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype><oc:id>1</oc:id></d:prop>
<d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response></d:multistatus>`)
	})

	items, err := c.ReadFileOrFolder(context.Background(), c.HomeServerURL()+"/My Films", domain.DepthSelf)
	if err != nil {
		t.Fatalf("ReadFileOrFolder() error = %v", err)
	}
	if got := gotPath.Load().(string); got != "/remote.php/dav/files/alice/My%20Films" {
		t.Fatalf("request path = %q", got)
	}
	if len(items) != 1 || items[0].FileName != "My Films" {
		t.Fatalf("items = %+v", items)
	}
}

func TestGetGroupfolders(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{
			name: "object keyed by id",
			data: `{"2":{"id":2,"mount_point":"Team","groups":{"staff":31},"quota":-3,"size":"12","acl":true,"manage":[{"type":"user","id":"bob","displayname":"Bob"}]},
			        "1":{"id":1,"mount_point":"/Media","groups":[],"quota":-3,"size":0,"acl":false}}`,
			want: 2,
		},
		{name: "empty array", data: `[]`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("OCS-APIRequest") != "true" {
					t.Errorf("missing OCS-APIRequest header")
				}
				if !strings.HasPrefix(r.URL.Path, "/index.php/apps/groupfolders/folders") {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				fmt.Fprintf(w, `{"ocs":{"meta":{"status":"ok","statuscode":200},"data":%s}}`, tt.data)
			})

			folders, err := c.GetGroupfolders(context.Background())
			if err != nil {
				t.Fatalf("GetGroupfolders() error = %v", err)
			}
			if len(folders) != tt.want {
				t.Fatalf("got %d folders, want %d", len(folders), tt.want)
			}
			if tt.want == 0 {
				return
			}
			if folders[0].ID != 1 || folders[0].NormalizedMountPoint() != "/Media" {
				t.Fatalf("folders not sorted by id: %+v", folders)
			}
			team := folders[1]
			if team.Groups["staff"] != 31 || team.Size != 12 || !team.ACL || len(team.Manage) != 1 {
				t.Fatalf("team = %+v", team)
			}
			if team.NormalizedMountPoint() != "/Team" {
				t.Fatalf("mount point = %q", team.NormalizedMountPoint())
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthFailed},
		{"not found", http.StatusNotFound, domain.ErrItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.ReadFileOrFolder(context.Background(), c.HomeServerURL(), domain.DepthSelf)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ocs":{"meta":{"statuscode":200},"data":{"id":"alice","display-name":"Alice"}}}`)
	})

	user, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user.ID != "alice" || user.DisplayName != "Alice" {
		t.Fatalf("user = %+v", user)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestServerOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "alice", "pw", "", nil)
	_, err := c.GetGroupfolders(context.Background())
	if !errors.Is(err, domain.ErrServerOffline) {
		t.Fatalf("error = %v, want ErrServerOffline", err)
	}
}

func TestDetectServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status.php" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"installed":true,"maintenance":false,"version":"28.0.1.1","versionstring":"28.0.1","productname":"Nextcloud"}`)
	}))
	defer srv.Close()

	status, err := DetectServer(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("DetectServer() error = %v", err)
	}
	if status.VersionString != "28.0.1" {
		t.Fatalf("status = %+v", status)
	}

	other := httptest.NewServer(http.NotFoundHandler())
	defer other.Close()
	if _, err := DetectServer(context.Background(), other.URL); err == nil {
		t.Fatalf("expected error for non-Nextcloud server")
	}
}

func TestAuthFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "alice" || pass != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ocs":{"meta":{"statuscode":200},"data":{"id":"alice-id","display-name":"Alice"}}}`)
	}))
	defer srv.Close()

	run := func(password string) (*domain.AuthResult, error) {
		f := NewAuthFlow(nil)
		f.in = strings.NewReader("alice\n")
		f.out = io.Discard
		f.readPassword = func() ([]byte, error) { return []byte(password), nil }
		return f.Run(context.Background(), srv.URL)
	}

	result, err := run("app-pass")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Token != "app-pass" || result.UserID != "alice-id" || result.Username != "alice" {
		t.Fatalf("result = %+v", result)
	}

	if _, err := run("wrong"); !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("error = %v, want ErrAuthFailed", err)
	}
}
