package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/scanchain/scanchain/internal/auth"
	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/metrics"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/storage"
	"github.com/scanchain/scanchain/internal/verification"
	"github.com/scanchain/scanchain/pkg/types"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	svc    *verification.Service
	reg    *registry.Registry
	auth   *auth.Service
	ledger *ledger.SimulatedLedger
	store  *storage.MemoryStore
}

func newTestEnv(t *testing.T, tweak func(*ServerConfig)) *testEnv {
	t.Helper()

	kv := registry.NewMemoryKV()
	authSvc, err := auth.NewService(kv, auth.Config{
		JWTSecret:  strings.Repeat("k", 32),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	env := &testEnv{
		reg:    registry.New(kv),
		auth:   authSvc,
		ledger: ledger.NewSimulatedLedger("0x1234567890123456789012345678901234567890"),
		store:  storage.NewMemoryStore(storage.DefaultBucket),
	}

	vcfg := verification.DefaultConfig()
	vcfg.LedgerTimeout = time.Second
	vcfg.DownloadTimeout = time.Second
	env.svc = verification.NewService(vcfg, env.ledger, env.store)

	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.RateLimit = 0
	cfg.DemoUsers = true
	if tweak != nil {
		tweak(cfg)
	}

	env.srv = NewServer(cfg, env.svc, env.reg, env.auth)
	env.srv.SetMetricsCollector(metrics.NewPrometheusCollector(metrics.NewCollector()))
	env.svc.SetNotifier(verification.MultiNotifier{env.reg, env.auth, env.srv.Hub()})

	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(env.ts.Close)
	t.Cleanup(env.svc.Wait)
	return env
}

// login registers a user with role and returns a session token.
func (e *testEnv) login(t *testing.T, name string, role types.Role) (string, auth.User) {
	t.Helper()
	ctx := context.Background()
	email := name + "@example.com"
	if _, err := e.auth.Register(ctx, auth.RegisterInput{
		Email:    email,
		Username: name,
		Password: "password123",
		Role:     role,
		FullName: name,
	}); err != nil {
		t.Fatalf("failed to register %s: %v", name, err)
	}
	result, err := e.auth.Login(ctx, email, "password123")
	if err != nil {
		t.Fatalf("failed to login %s: %v", name, err)
	}
	return result.Token, result.User
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: failed to decode response: %v", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) upload(t *testing.T, token, productID, contentType string, data []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"productId":        productID,
		"manufacturerName": "Acme Pharma",
		"batchName":        "Vaccine Lot 7",
		"productType":      "pharmaceutical",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="cert.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create file part: %v", err)
	}
	part.Write(data)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/api/upload", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return e.send(t, req)
}

// stored uploads "hello world" as productID and waits for bookkeeping.
func (e *testEnv) stored(t *testing.T, token, productID string) map[string]any {
	t.Helper()
	status, body := e.upload(t, token, productID, "application/pdf", []byte("hello world"))
	if status != http.StatusOK {
		t.Fatalf("upload failed with %d: %v", status, body)
	}
	e.svc.Wait()
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["simulated"] != true || body["ledger"] != "simulated" || body["storage"] != "memory" {
		t.Errorf("unexpected backend flags: %v", body)
	}
	if body["contract"] != "0x0000000000000000000000000000000000000000" {
		t.Errorf("expected zero contract address, got %v", body["contract"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer junk", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/network", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			status, body := env.send(t, req)
			if status != tt.want {
				t.Errorf("expected %d, got %d", tt.want, status)
			}
			if body["success"] != false || body["error"] == "" {
				t.Errorf("expected error envelope, got %v", body)
			}
		})
	}

	token, _ := env.login(t, "reader", types.RoleUser)
	status, body := env.do(t, http.MethodGet, "/api/network", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %v", status, body)
	}
	network := body["network"].(map[string]any)
	if network["name"] != "simulated" {
		t.Errorf("expected simulated network, got %v", network)
	}
}

func TestUploadRequiresUploaderRole(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "supplier", types.RoleSupplier)

	status, _ := env.upload(t, token, "BATCH-001", "application/pdf", []byte("hello world"))
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for supplier upload, got %d", status)
	}
	if env.ledger.Len() != 0 {
		t.Error("nothing should be recorded for a rejected upload")
	}
}

func TestUploadAndVerify(t *testing.T) {
	env := newTestEnv(t, nil)
	token, user := env.login(t, "maker", types.RoleManufacturer)

	body := env.stored(t, token, "BATCH-001")
	if body["fileHash"] != helloDigest {
		t.Errorf("expected digest %s, got %v", helloDigest, body["fileHash"])
	}
	if body["batchId"] != "BATCH-001" || body["simulated"] != true {
		t.Errorf("unexpected upload response: %v", body)
	}
	locator, _ := body["storageLocator"].(string)
	if locator == "" {
		t.Fatal("expected a storage locator")
	}
	if qrData, _ := body["qrCodeData"].(string); !strings.Contains(qrData, `"productId":"BATCH-001"`) {
		t.Errorf("expected QR payload for the product, got %q", qrData)
	}

	// Notifiers ran: batch is in the registry and the hash is associated.
	batch, err := env.reg.GetBatch("BATCH-001")
	if err != nil {
		t.Fatalf("batch not recorded: %v", err)
	}
	if batch.DocumentURL != locator || batch.UserID != user.ID {
		t.Errorf("unexpected batch: %+v", batch)
	}
	hashes, err := env.auth.Hashes(user.ID)
	if err != nil || len(hashes) != 1 {
		t.Fatalf("expected one hash association, got %v (%v)", hashes, err)
	}

	status, verdict := env.do(t, http.MethodPost, "/api/verify", token, map[string]string{
		"productId": "BATCH-001",
		"locator":   locator,
	})
	if status != http.StatusOK || verdict["isVerified"] != true {
		t.Fatalf("expected authentic verdict, got %d: %v", status, verdict)
	}
	if verdict["message"] != "Product is authentic" {
		t.Errorf("unexpected message %v", verdict["message"])
	}
	if verdict["storedHash"] != helloDigest || verdict["currentHash"] != helloDigest {
		t.Errorf("unexpected digests: %v", verdict)
	}

	if err := env.store.Replace(locator, []byte("hello world!")); err != nil {
		t.Fatalf("failed to tamper with blob: %v", err)
	}
	status, verdict = env.do(t, http.MethodPost, "/api/verify", token, map[string]string{
		"productId":     "BATCH-001",
		"greenfieldUrl": locator,
	})
	if status != http.StatusOK || verdict["isVerified"] != false {
		t.Fatalf("expected tampered verdict, got %d: %v", status, verdict)
	}
	if verdict["reason"] != string(types.ReasonDigestMismatch) || verdict["message"] != "Product has been tampered with" {
		t.Errorf("unexpected tampered verdict: %v", verdict)
	}

	// Without a locator the batch document is used.
	status, verdict = env.do(t, http.MethodPost, "/api/verify", token, map[string]string{"productId": "BATCH-001"})
	if status != http.StatusOK || verdict["isVerified"] != false {
		t.Errorf("expected verdict from recorded locator, got %d: %v", status, verdict)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	env.stored(t, token, "BATCH-001")

	status, body := env.upload(t, token, "BATCH-001", "application/pdf", []byte("again"))
	if status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate product, got %d: %v", status, body)
	}

	status, _ = env.upload(t, token, "BATCH-002", "text/plain", []byte("plain"))
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for disallowed content type, got %d", status)
	}

	status, _ = env.upload(t, token, "bad id!", "application/pdf", []byte("x"))
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid product ID, got %d", status)
	}

	env.store.SetUploadError(storage.ErrUnavailable)
	status, _ = env.upload(t, token, "BATCH-003", "application/pdf", []byte("x"))
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when storage is down, got %d", status)
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.MaxUploadSize = 16 })
	token, _ := env.login(t, "maker", types.RoleManufacturer)

	status, body := env.upload(t, token, "BATCH-001", "application/pdf", bytes.Repeat([]byte("x"), 1<<20+64<<10))
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized upload, got %d: %v", status, body)
	}
}

func TestUploadLedgerUncertain(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	env.ledger.SetPutFault(ledger.ErrUncertain, true)

	status, body := env.upload(t, token, "BATCH-001", "application/pdf", []byte("hello world"))
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", status, body)
	}
	if body["success"] != false || body["uncertain"] != true {
		t.Errorf("expected uncertain envelope, got %v", body)
	}
	if body["txHash"] == nil || body["storageLocator"] == nil {
		t.Errorf("expected tx hash and orphaned locator, got %v", body)
	}
}

func TestUploadLedgerRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	env.ledger.SetPutFault(fmt.Errorf("%w: execution reverted", ledger.ErrRejected), false)

	status, body := env.upload(t, token, "BATCH-001", "application/pdf", []byte("hello world"))
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a rejected ledger write, got %d: %v", status, body)
	}
	if body["uncertain"] == true {
		t.Errorf("a rejected write is not uncertain: %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "reverted") {
		t.Errorf("expected the rejection reason, got %v", body)
	}
}

func TestVerifyErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	body := env.stored(t, token, "BATCH-001")
	locator := body["storageLocator"].(string)

	status, verdict := env.do(t, http.MethodPost, "/api/verify", token, map[string]string{
		"productId": "UNKNOWN-1",
		"locator":   locator,
	})
	if status != http.StatusOK || verdict["isVerified"] != false {
		t.Fatalf("expected negative verdict for unknown product, got %d: %v", status, verdict)
	}
	if verdict["error"] != "Product not found on blockchain" {
		t.Errorf("unexpected error text %v", verdict["error"])
	}

	status, _ = env.do(t, http.MethodPost, "/api/verify", token, map[string]string{
		"productId": "BATCH-001",
		"locator":   "ftp://nowhere",
	})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad locator, got %d", status)
	}

	env.store.SetDownloadError(storage.ErrUnavailable)
	status, out := env.do(t, http.MethodPost, "/api/verify", token, map[string]string{
		"productId": "BATCH-001",
		"locator":   locator,
	})
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when storage is down, got %d: %v", status, out)
	}
	if _, ok := out["isVerified"]; ok {
		t.Error("a storage outage must not produce a verdict")
	}
}

func TestScan(t *testing.T) {
	env := newTestEnv(t, nil)
	maker, _ := env.login(t, "maker", types.RoleManufacturer)
	supplier, _ := env.login(t, "supplier", types.RoleSupplier)
	qrData := env.stored(t, maker, "BATCH-001")["qrCodeData"].(string)

	status, body := env.do(t, http.MethodPost, "/api/scan", supplier, map[string]any{
		"qrData":       qrData,
		"supplierName": "Acme Logistics",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["message"] != "Welcome Acme Logistics! Scan recorded successfully." {
		t.Errorf("unexpected message %v", body["message"])
	}
	info := body["batchInfo"].(map[string]any)
	if info["batchId"] != "BATCH-001" || info["manufacturerName"] != "Acme Pharma" {
		t.Errorf("unexpected batch info %v", info)
	}

	var inline map[string]any
	json.Unmarshal([]byte(qrData), &inline)
	status, _ = env.do(t, http.MethodPost, "/api/scan", supplier, map[string]any{
		"qrData":           inline,
		"supplierName":     "Second Hop",
		"supplierLocation": "Rotterdam",
	})
	if status != http.StatusOK {
		t.Errorf("expected inline QR object to be accepted, got %d", status)
	}

	stats, err := env.reg.BatchStats("BATCH-001")
	if err != nil || stats.TotalScans != 2 || stats.UniqueSuppliers != 2 {
		t.Errorf("expected 2 scans from 2 suppliers, got %+v (%v)", stats, err)
	}

	unknown := strings.Replace(qrData, "BATCH-001", "BATCH-404", 1)
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing supplier", map[string]any{"qrData": qrData}, http.StatusBadRequest},
		{"missing qr", map[string]any{"supplierName": "x"}, http.StatusBadRequest},
		{"malformed qr", map[string]any{"qrData": "not json", "supplierName": "x"}, http.StatusBadRequest},
		{"unknown batch", map[string]any{"qrData": unknown, "supplierName": "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.do(t, http.MethodPost, "/api/scan", supplier, tt.body)
			if status != tt.want {
				t.Errorf("expected %d, got %d", tt.want, status)
			}
		})
	}
}

func TestProductAndBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	env.stored(t, token, "BATCH-001")

	status, body := env.do(t, http.MethodGet, "/api/product/BATCH-001", token, nil)
	if status != http.StatusOK || body["fileHash"] != helloDigest {
		t.Errorf("expected product info, got %d: %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/api/product/NOPE", token, nil)
	if status != http.StatusNotFound || body["error"] != "Product not found" {
		t.Errorf("expected 404 for unknown product, got %d: %v", status, body)
	}

	// Batch lookup is public.
	status, body = env.do(t, http.MethodGet, "/api/batch/BATCH-001", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["batch"].(map[string]any)["batchName"] != "Vaccine Lot 7" {
		t.Errorf("unexpected batch %v", body["batch"])
	}
	if _, ok := body["stats"]; !ok {
		t.Error("expected batch stats")
	}
	status, _ = env.do(t, http.MethodGet, "/api/batch/NOPE", "", nil)
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown batch, got %d", status)
	}

	status, body = env.do(t, http.MethodGet, "/api/dashboard/acme_pharma", token, nil)
	if status != http.StatusOK || body["totalBatches"] != float64(1) {
		t.Errorf("expected dashboard with one batch, got %d: %v", status, body)
	}
}

func TestUserMetadataAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	maker, makerUser := env.login(t, "maker", types.RoleManufacturer)
	other, _ := env.login(t, "other", types.RoleUser)
	admin, _ := env.login(t, "admin", types.RoleAdmin)
	env.stored(t, maker, "BATCH-001")

	path := "/api/user/" + makerUser.ID + "/metadata"
	if status, _ := env.do(t, http.MethodGet, path, other, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for another user's metadata, got %d", status)
	}
	for _, token := range []string{maker, admin} {
		status, body := env.do(t, http.MethodGet, path, token, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		meta := body["userMetadata"].(map[string]any)
		if meta["totalUploads"] != float64(1) {
			t.Errorf("expected one upload, got %v", meta)
		}
	}

	status, body := env.do(t, http.MethodGet, "/api/user/metadata", maker, nil)
	if status != http.StatusOK || body["userMetadata"].(map[string]any)["userId"] != makerUser.ID {
		t.Errorf("expected own metadata, got %d: %v", status, body)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, "maker", types.RoleManufacturer)
	env.stored(t, token, "BATCH-001")

	status, _ := env.do(t, http.MethodGet, "/api/products/search?q=", token, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty query, got %d", status)
	}

	status, body := env.do(t, http.MethodGet, "/api/products/search?q=vaccine", token, nil)
	if status != http.StatusOK || body["total"] != float64(1) || body["criteria"] != "all" {
		t.Errorf("expected one match, got %d: %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/products/search?q=vaccine&criteria=manufacturer", token, nil)
	if status != http.StatusOK || body["total"] != float64(0) {
		t.Errorf("expected no manufacturer match, got %d: %v", status, body)
	}
}

func TestQRRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	contract := "0xAbCdEf0123456789abcdef0123456789ABCDEF01"

	status, body := env.do(t, http.MethodPost, "/api/qr/generate", "", map[string]any{"productId": "P-1"})
	if status != http.StatusBadRequest || body["error"] != "Contract address not provided" {
		t.Errorf("expected missing contract error, got %d: %v", status, body)
	}
	status, _ = env.do(t, http.MethodPost, "/api/qr/generate", "", map[string]any{"contractAddress": contract})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 without productId, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/qr/generate", "", map[string]any{
		"productId":       "P-1",
		"contractAddress": contract,
		"metadata":        map[string]string{"manufacturer": "Acme"},
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	qrData := body["qrData"].(map[string]any)
	if qrData["version"] != "2.0" || qrData["contractAddress"] != contract {
		t.Errorf("unexpected payload %v", qrData)
	}
	if body["metadata"].(map[string]any)["manufacturer"] != "Acme" {
		t.Errorf("unexpected metadata %v", body["metadata"])
	}

	status, body = env.do(t, http.MethodPost, "/api/qr/parse", "", map[string]any{"qrData": qrData})
	if status != http.StatusOK || body["productExists"] != false {
		t.Errorf("expected parsed payload for unregistered product, got %d: %v", status, body)
	}
	if !strings.HasSuffix(body["verificationUrl"].(string), "/verify?productId=P-1") {
		t.Errorf("unexpected verification URL %v", body["verificationUrl"])
	}

	status, _ = env.do(t, http.MethodPost, "/api/qr/parse", "", map[string]any{"qrData": `{"productId":"P-1"}`})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for payload without contract, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/qr/scan", "", map[string]any{"qrData": qrData})
	if status != http.StatusOK || body["found"] != false {
		t.Errorf("expected not found on ledger, got %d: %v", status, body)
	}
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	reg := map[string]string{
		"email":    "jane@example.com",
		"username": "jane",
		"password": "secret123",
		"fullName": "Jane Doe",
		"role":     "manufacturer",
	}
	status, body := env.do(t, http.MethodPost, "/api/auth/register", "", reg)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	if _, leaked := body["user"].(map[string]any)["passwordHash"]; leaked {
		t.Error("password hash must not be returned")
	}

	if status, _ := env.do(t, http.MethodPost, "/api/auth/register", "", reg); status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate registration, got %d", status)
	}
	reg["email"] = "not-an-email"
	if status, _ := env.do(t, http.MethodPost, "/api/auth/register", "", reg); status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid email, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "jane@example.com", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "jane@example.com", "password": "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	token := body["token"].(string)

	status, body = env.do(t, http.MethodPut, "/api/auth/profile", token, map[string]string{"companyName": "Acme"})
	if status != http.StatusOK || body["user"].(map[string]any)["companyName"] != "Acme" {
		t.Errorf("expected updated profile, got %d: %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	user := body["user"].(map[string]any)
	if _, ok := user["stats"]; !ok {
		t.Errorf("expected stats in profile, got %v", user)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/auth/verify", token, nil); status != http.StatusOK {
		t.Errorf("expected valid token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/auth/hashes", token, nil); status != http.StatusOK {
		t.Errorf("expected hashes, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/auth/logout", token, nil); status != http.StatusOK {
		t.Errorf("expected logout to succeed, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/auth/verify", token, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 after logout, got %d", status)
	}
}

func TestDemoLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.auth.EnsureDemoUsers(context.Background()); err != nil {
		t.Fatalf("failed to create demo users: %v", err)
	}

	status, body := env.do(t, http.MethodPost, "/api/auth/demo/manufacturer", "", nil)
	if status != http.StatusOK || body["token"] == "" {
		t.Errorf("expected demo login, got %d: %v", status, body)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/auth/demo/admin", "", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for admin demo login, got %d", status)
	}

	disabled := newTestEnv(t, func(c *ServerConfig) { c.DemoUsers = false })
	if status, _ := disabled.do(t, http.MethodPost, "/api/auth/demo/manufacturer", "", nil); status != http.StatusNotFound {
		t.Errorf("expected 404 with demo users disabled, got %d", status)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) {
		c.RateLimit = 2
		c.RateLimitWindow = time.Hour
	})

	for i := 0; i < 2; i++ {
		if status, _ := env.do(t, http.MethodGet, "/api/health", "", nil); status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	status, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	if status != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d: %v", status, body)
	}
}

func TestCleanupRateLimiters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.config.RateLimit = 10
	env.srv.getRateLimiter("10.0.0.1")
	env.srv.getRateLimiter("10.0.0.2")

	if n := env.srv.cleanupRateLimiters(time.Now().Add(-time.Minute)); n != 0 {
		t.Errorf("expected fresh limiters to survive, removed %d", n)
	}
	if n := env.srv.cleanupRateLimiters(time.Now().Add(time.Minute)); n != 2 {
		t.Errorf("expected 2 stale limiters removed, got %d", n)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, nil, "192.0.2.1"},
		{"proxy headers ignored", false, map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.0.2.1"},
		{"forwarded for", true, map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"cloudflare first", true, map[string]string{"CF-Connecting-IP": "198.51.100.7", "X-Real-IP": "10.0.0.2"}, "198.51.100.7"},
		{"real ip", true, map[string]string{"X-Real-IP": "10.0.0.2"}, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: &ServerConfig{TrustProxy: tt.trustProxy}}
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "192.0.2.1:4321"
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := s.extractClientIP(r); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.AllowedOrigins = []string{"https://app.example"} })

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/upload", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, env.ts.URL+"/api/upload", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header for unknown origin, got %q", got)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/health", "", nil)

	status, body := env.do(t, http.MethodGet, "/api/metrics", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if m, _ := body["request_counts"].(map[string]any); m["GET /api/health"] != float64(1) {
		t.Errorf("expected one recorded health request, got %v", body)
	}

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(text), `scanchain_http_requests_total{code="200",route="GET /api/health"}`) {
		t.Errorf("expected health request counter in scrape output")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/api/nope", "", nil)
	if status != http.StatusNotFound || body["error"] != "Route not found" {
		t.Errorf("expected JSON 404, got %d: %v", status, body)
	}
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := env.srv.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := env.srv.Stop(stopCtx); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
	http.DefaultClient.CloseIdleConnections()
}
