package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/store/memstore"
	"github.com/mossrock/roomdrop/internal/app/system/imagepipe"
	"github.com/mossrock/roomdrop/internal/domain/models"
	"github.com/mossrock/roomdrop/internal/room"
	"github.com/mossrock/roomdrop/internal/testutil"
)

// testEnv wires the handler to the memory backend the way the daemon
// wires it to Mongo.
type testEnv struct {
	db  *memstore.DB
	reg *Registry
	h   *Handler
	api http.Handler
	sid string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	db := memstore.NewDB()
	open := func(ctx context.Context, roomSlug string) (room.Stores, error) {
		return room.Stores{Items: db.Items(roomSlug), Images: db.Images(roomSlug)}, nil
	}
	reg := NewRegistry(open, room.Options{
		Debounce: 20 * time.Millisecond,
		Pipeline: imagepipe.New(0, 0, 0, logger),
		Logger:   logger,
	}, logger)
	t.Cleanup(reg.CloseAll)
	h := NewHandler(reg, 1<<20, logger)
	return &testEnv{
		db:  db,
		reg: reg,
		h:   h,
		api: Routes(h),
		sid: testutil.TestSessionID(),
	}
}

// do issues one request against the room API as the env's client.
func (e *testEnv) do(t *testing.T, method, target, body string) *testutil.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = testutil.NewSessionRequest(method, target, nil, e.sid)
	} else {
		req = testutil.NewJSONRequest(method, target, body, e.sid)
	}
	rec := testutil.NewRecorder()
	e.api.ServeHTTP(rec, req)
	return rec
}

// createItem creates an item through the API and returns its id.
func (e *testEnv) createItem(t *testing.T, roomSlug, typ, name, parentID string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{
		"type": typ, "name": name, "parent_id": parentID,
	})
	rec := e.do(t, http.MethodPost, "/"+roomSlug+"/items", string(payload))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s %q: status = %d, body %s", typ, name, rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if _, err := primitive.ObjectIDFromHex(resp["id"]); err != nil {
		t.Fatalf("created id %q is not an object id", resp["id"])
	}
	return resp["id"]
}

// waitTree polls the tree endpoint until the listing for folder
// contains substr. Mirrors fill asynchronously, so tests wait rather
// than assume.
func (e *testEnv) waitTree(t *testing.T, roomSlug, folder, substr string) {
	t.Helper()
	target := "/" + roomSlug + "/tree"
	if folder != "" {
		target += "?folder=" + folder
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, target, "")
		if rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tree listing for %q never contained %q", folder, substr)
}

// waitTreeGone polls until the listing no longer contains substr.
func (e *testEnv) waitTreeGone(t *testing.T, roomSlug, folder, substr string) {
	t.Helper()
	target := "/" + roomSlug + "/tree"
	if folder != "" {
		target += "?folder=" + folder
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, target, "")
		if rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tree listing for %q still contains %q", folder, substr)
}

func decodeState(t *testing.T, rec *testutil.ResponseRecorder) map[string]any {
	t.Helper()
	var st map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestCreateFolderListsInTree(t *testing.T) {
	e := newTestEnv(t)

	e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")
}

func TestCreateDocumentOpensIt(t *testing.T) {
	e := newTestEnv(t)

	id := e.createItem(t, "kitchen", "document", "Shopping list", "")

	rec := e.do(t, http.MethodGet, "/kitchen/state", "")
	rec.AssertStatus(t, http.StatusOK)
	st := decodeState(t, rec)
	if st["document_id"] != id {
		t.Errorf("document_id = %v, want %v", st["document_id"], id)
	}
}

func TestCreateItemValidation(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"type":"folder"}`},
		{"blank name", `{"type":"folder","name":"   "}`},
		{"bad type", `{"type":"link","name":"x"}`},
		{"markup-only name", `{"type":"folder","name":"<script></script>"}`},
		{"bad parent", `{"type":"folder","name":"x","parent_id":"nope"}`},
		{"not json", `name=x`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/kitchen/items", tc.body)
			rec.AssertStatus(t, http.StatusBadRequest)
		})
	}
}

func TestCreateItemStripsMarkup(t *testing.T) {
	e := newTestEnv(t)

	e.createItem(t, "kitchen", "folder", "<b>Plans</b>", "")
	e.waitTree(t, "kitchen", "", `"Plans"`)
}

func TestRenameItem(t *testing.T) {
	e := newTestEnv(t)

	id := e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")

	rec := e.do(t, http.MethodPatch, "/kitchen/items/"+id, `{"name":"Blueprints"}`)
	rec.AssertStatus(t, http.StatusNoContent)
	e.waitTree(t, "kitchen", "", "Blueprints")
}

func TestRenameMissingItem(t *testing.T) {
	e := newTestEnv(t)
	e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")

	rec := e.do(t, http.MethodPatch, "/kitchen/items/"+primitive.NewObjectID().Hex(), `{"name":"X"}`)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestMoveItemIntoFolderAndBack(t *testing.T) {
	e := newTestEnv(t)

	folderID := e.createItem(t, "kitchen", "folder", "Plans", "")
	docID := e.createItem(t, "kitchen", "document", "Notes", "")
	e.waitTree(t, "kitchen", "", "Notes")

	rec := e.do(t, http.MethodPatch, "/kitchen/items/"+docID, `{"parent_id":"`+folderID+`"}`)
	rec.AssertStatus(t, http.StatusNoContent)
	e.waitTree(t, "kitchen", folderID, "Notes")
	e.waitTreeGone(t, "kitchen", "", "Notes")

	rec = e.do(t, http.MethodPatch, "/kitchen/items/"+docID, `{"parent_id":""}`)
	rec.AssertStatus(t, http.StatusNoContent)
	e.waitTree(t, "kitchen", "", "Notes")
}

func TestMoveFolderIntoItselfRejected(t *testing.T) {
	e := newTestEnv(t)

	folderID := e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")

	rec := e.do(t, http.MethodPatch, "/kitchen/items/"+folderID, `{"parent_id":"`+folderID+`"}`)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestMoveFolderIntoDescendantRejected(t *testing.T) {
	e := newTestEnv(t)

	outer := e.createItem(t, "kitchen", "folder", "Outer", "")
	e.waitTree(t, "kitchen", "", "Outer")
	inner := e.createItem(t, "kitchen", "folder", "Inner", outer)
	e.waitTree(t, "kitchen", outer, "Inner")

	rec := e.do(t, http.MethodPatch, "/kitchen/items/"+outer, `{"parent_id":"`+inner+`"}`)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestDeleteFolderGuard(t *testing.T) {
	e := newTestEnv(t)

	folderID := e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")
	childID := e.createItem(t, "kitchen", "document", "Notes", folderID)
	e.waitTree(t, "kitchen", folderID, "Notes")

	rec := e.do(t, http.MethodDelete, "/kitchen/items/"+folderID, "")
	rec.AssertStatus(t, http.StatusConflict)
	rec.AssertContains(t, "folder is not empty")

	rec = e.do(t, http.MethodDelete, "/kitchen/items/"+childID, "")
	rec.AssertStatus(t, http.StatusNoContent)

	rec = e.do(t, http.MethodDelete, "/kitchen/items/"+folderID, "")
	rec.AssertStatus(t, http.StatusNoContent)
	e.waitTreeGone(t, "kitchen", "", "Plans")
}

func TestDeleteMissingItem(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodDelete, "/kitchen/items/"+primitive.NewObjectID().Hex(), "")
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestNavigateAndUp(t *testing.T) {
	e := newTestEnv(t)

	folderID := e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")

	rec := e.do(t, http.MethodPost, "/kitchen/navigate", `{"folder_id":"`+folderID+`"}`)
	rec.AssertStatus(t, http.StatusOK)
	if st := decodeState(t, rec); st["folder_name"] != "Plans" {
		t.Errorf("folder_name = %v, want Plans", st["folder_name"])
	}

	rec = e.do(t, http.MethodPost, "/kitchen/up", "")
	rec.AssertStatus(t, http.StatusOK)
	if st := decodeState(t, rec); st["folder_name"] != room.NameRoot {
		t.Errorf("folder_name after up = %v, want %v", st["folder_name"], room.NameRoot)
	}
}

func TestNavigateBadID(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/kitchen/navigate", `{"folder_id":"not-an-id"}`)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestOpenFolderAsDocumentRejected(t *testing.T) {
	e := newTestEnv(t)

	folderID := e.createItem(t, "kitchen", "folder", "Plans", "")
	e.waitTree(t, "kitchen", "", "Plans")

	rec := e.do(t, http.MethodPost, "/kitchen/open", `{"document_id":"`+folderID+`"}`)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestPutContentStoresAfterDebounce(t *testing.T) {
	e := newTestEnv(t)

	id := e.createItem(t, "kitchen", "document", "Notes", "")

	rec := e.do(t, http.MethodPut, "/kitchen/documents/"+id+"/content", `{"content":"1. sand\n2. paint"}`)
	rec.AssertStatus(t, http.StatusAccepted)
	var doc map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode doc view: %v", err)
	}
	if doc["content"] != "1. sand\n2. paint" {
		t.Errorf("content = %v, want the submitted text", doc["content"])
	}
	if doc["dirty"] != true {
		t.Error("dirty = false right after an edit")
	}

	// The debounced write lands in the backend shortly after.
	oid, _ := primitive.ObjectIDFromHex(id)
	deadline := time.Now().Add(5 * time.Second)
	for {
		it, err := e.db.Items("kitchen").Get(context.Background(), oid)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if it != nil && it.Text() == "1. sand\n2. paint" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced write never reached the backend")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPutContentOpensClosedDocument(t *testing.T) {
	e := newTestEnv(t)

	id := e.createItem(t, "kitchen", "document", "Notes", "")

	// Navigate away: the document closes.
	rec := e.do(t, http.MethodPost, "/kitchen/navigate", `{"folder_id":""}`)
	rec.AssertStatus(t, http.StatusOK)
	if st := decodeState(t, rec); st["document_id"] != nil {
		t.Fatalf("document_id = %v after navigate, want absent", st["document_id"])
	}

	rec = e.do(t, http.MethodPut, "/kitchen/documents/"+id+"/content", `{"content":"hello"}`)
	rec.AssertStatus(t, http.StatusAccepted)

	rec = e.do(t, http.MethodGet, "/kitchen/state", "")
	if st := decodeState(t, rec); st["document_id"] != id {
		t.Errorf("document_id = %v, want %v", st["document_id"], id)
	}
}

func TestLeaveRoomClosesSession(t *testing.T) {
	e := newTestEnv(t)

	e.createItem(t, "kitchen", "folder", "Plans", "")
	if got := e.reg.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	rec := e.do(t, http.MethodPost, "/kitchen/close", "")
	rec.AssertStatus(t, http.StatusNoContent)
	if got := e.reg.Len(); got != 0 {
		t.Errorf("Len() after close = %d, want 0", got)
	}

	// Leaving again is a quiet no-op.
	rec = e.do(t, http.MethodPost, "/kitchen/close", "")
	rec.AssertStatus(t, http.StatusNoContent)
}

func TestTreeOrdering(t *testing.T) {
	e := newTestEnv(t)

	e.createItem(t, "kitchen", "document", "alpha", "")
	e.createItem(t, "kitchen", "folder", "Zebra", "")
	e.createItem(t, "kitchen", "document", "Beta", "")
	e.waitTree(t, "kitchen", "", "Zebra")
	e.waitTree(t, "kitchen", "", "alpha")
	e.waitTree(t, "kitchen", "", "Beta")

	rec := e.do(t, http.MethodGet, "/kitchen/tree", "")
	rec.AssertStatus(t, http.StatusOK)
	var tree struct {
		FolderName string `json:"folder_name"`
		Items      []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tree); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if tree.FolderName != room.NameRoot {
		t.Errorf("folder_name = %q, want %q", tree.FolderName, room.NameRoot)
	}
	got := make([]string, len(tree.Items))
	for i, it := range tree.Items {
		got[i] = it.Name
	}
	want := []string{"Zebra", "alpha", "Beta"}
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items[%d] = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestSlugVariantsShareARoom(t *testing.T) {
	e := newTestEnv(t)

	// "My-Kitchen" sanitizes to "my-kitchen"; both spellings address
	// the same collections.
	payload := `{"type":"folder","name":"Plans"}`
	rec := e.do(t, http.MethodPost, "/My-Kitchen/items", payload)
	rec.AssertStatus(t, http.StatusCreated)
	e.waitTree(t, "my-kitchen", "", "Plans")
}

func TestUnusableSlugRejected(t *testing.T) {
	e := newTestEnv(t)

	// Dots sanitize away to nothing, which no room can be addressed by.
	rec := e.do(t, http.MethodGet, "/.../state", "")
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestListImagesPaged(t *testing.T) {
	e := newTestEnv(t)

	base := time.Now().UTC()
	for i, name := range []string{"one.jpg", "two.jpg", "three.jpg"} {
		_, err := e.db.Images("pics").Insert(context.Background(), models.GalleryImage{
			URL:        "data:image/jpeg;base64,AAAA",
			Name:       name,
			UploadedBy: "someone-else",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	type page struct {
		Images []struct {
			Name string `json:"name"`
		} `json:"images"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
	}
	getPage := func(target string) page {
		t.Helper()
		rec := e.do(t, http.MethodGet, target, "")
		rec.AssertStatus(t, http.StatusOK)
		var p page
		if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
			t.Fatalf("decode images: %v", err)
		}
		return p
	}

	// The gallery mirror fills asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for getPage("/pics/images").Total != 3 {
		if time.Now().After(deadline) {
			t.Fatal("gallery never mirrored all images")
		}
		time.Sleep(10 * time.Millisecond)
	}

	first := getPage("/pics/images?limit=2&page=1")
	if len(first.Images) != 2 || first.Total != 3 {
		t.Fatalf("page 1: %d images, total %d; want 2 and 3", len(first.Images), first.Total)
	}
	// Newest first.
	if first.Images[0].Name != "three.jpg" || first.Images[1].Name != "two.jpg" {
		t.Errorf("page 1 = %q, %q; want three.jpg, two.jpg", first.Images[0].Name, first.Images[1].Name)
	}

	second := getPage("/pics/images?limit=2&page=2")
	if len(second.Images) != 1 || second.Images[0].Name != "one.jpg" {
		t.Errorf("page 2 = %v, want just one.jpg", second.Images)
	}

	past := getPage("/pics/images?limit=2&page=9")
	if len(past.Images) != 0 {
		t.Errorf("past-the-end page returned %d images", len(past.Images))
	}
}

// pngBytes encodes a tiny valid PNG for upload tests.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// multipartUpload builds a multipart body with one file field.
func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func (e *testEnv) doUpload(t *testing.T, target string, body *bytes.Buffer, contentType string) *testutil.ResponseRecorder {
	t.Helper()
	req := testutil.NewSessionRequest(http.MethodPost, target, body, e.sid)
	req.Header.Set("Content-Type", contentType)
	rec := testutil.NewRecorder()
	e.api.ServeHTTP(rec, req)
	return rec
}

func TestUploadImage(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartUpload(t, uploadFieldName, "whiteboard.png", pngBytes(t))
	rec := e.doUpload(t, "/pics/images", body, contentType)
	rec.AssertStatus(t, http.StatusCreated)

	deadline := time.Now().Add(5 * time.Second)
	for {
		lrec := e.do(t, http.MethodGet, "/pics/images", "")
		if lrec.Code == http.StatusOK && strings.Contains(lrec.Body.String(), "whiteboard.png") {
			if !strings.Contains(lrec.Body.String(), "data:image/jpeg;base64,") {
				t.Error("stored image is not a jpeg data URL")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("uploaded image never appeared in the gallery")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadImageUndecodable(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartUpload(t, uploadFieldName, "junk.bin", []byte("not an image"))
	rec := e.doUpload(t, "/pics/images", body, contentType)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestUploadImageMissingField(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartUpload(t, "wrong_field", "x.png", pngBytes(t))
	rec := e.doUpload(t, "/pics/images", body, contentType)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestUploadImageTooLarge(t *testing.T) {
	e := newTestEnv(t)
	// A handler with a tiny cap rejects before the pipeline runs.
	small := NewHandler(e.reg, 64, zap.NewNop())
	api := Routes(small)

	body, contentType := multipartUpload(t, uploadFieldName, "big.png", pngBytes(t))
	req := testutil.NewSessionRequest(http.MethodPost, "/pics/images", body, e.sid)
	req.Header.Set("Content-Type", contentType)
	rec := testutil.NewRecorder()
	api.ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusRequestEntityTooLarge)
}

func TestDeleteImage(t *testing.T) {
	e := newTestEnv(t)

	id, err := e.db.Images("pics").Insert(context.Background(), models.GalleryImage{
		URL:       "data:image/jpeg;base64,AAAA",
		Name:      "sunset.jpg",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	rec := e.do(t, http.MethodDelete, "/pics/images/"+id.Hex(), "")
	rec.AssertStatus(t, http.StatusNoContent)

	deadline := time.Now().Add(5 * time.Second)
	for {
		lrec := e.do(t, http.MethodGet, "/pics/images", "")
		if lrec.Code == http.StatusOK && !strings.Contains(lrec.Body.String(), "sunset.jpg") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("deleted image still listed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestWithoutSessionRejected(t *testing.T) {
	e := newTestEnv(t)

	req := testutil.NewRequest(http.MethodGet, "/kitchen/state", nil)
	rec := testutil.NewRecorder()
	e.api.ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusUnauthorized)
}
