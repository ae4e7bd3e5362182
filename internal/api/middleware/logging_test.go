package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// logEntry — распакованная JSON-строка журнала запроса.
type logEntry struct {
	Level         string `json:"level"`
	Msg           string `json:"msg"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	ResponseBytes int64  `json:"response_bytes"`
	Component     string `json:"component"`
}

// serveLogged пропускает один запрос через RequestLogger и возвращает
// распакованную запись журнала.
func serveLogged(t *testing.T, status int, body string) logEntry {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactor/submit", strings.NewReader("{}"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("журнал не распарсился: %v (%s)", err, buf.String())
	}
	return entry
}

// TestRequestLogger_Fields — запись журнала содержит метод, путь,
// статус и размер ответа.
func TestRequestLogger_Fields(t *testing.T) {
	entry := serveLogged(t, http.StatusOK, `{"ok":true}`)

	if entry.Method != http.MethodPost {
		t.Errorf("ожидался метод POST, получен %s", entry.Method)
	}
	if entry.Path != "/api/v1/transactor/submit" {
		t.Errorf("неожиданный путь %s", entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", entry.Status)
	}
	if entry.ResponseBytes != int64(len(`{"ok":true}`)) {
		t.Errorf("неожиданный размер ответа %d", entry.ResponseBytes)
	}
	if entry.Component != "http" {
		t.Errorf("ожидался component=http, получен %s", entry.Component)
	}
}

// TestRequestLogger_LevelByStatus — уровень записи следует статус-коду.
func TestRequestLogger_LevelByStatus(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		level  string
	}{
		{"успех", http.StatusOK, "INFO"},
		{"ошибка клиента", http.StatusForbidden, "WARN"},
		{"ошибка сервера", http.StatusBadGateway, "ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry := serveLogged(t, tc.status, "")
			if entry.Level != tc.level {
				t.Errorf("статус %d: ожидался уровень %s, получен %s", tc.status, tc.level, entry.Level)
			}
			if entry.Status != tc.status {
				t.Errorf("ожидался статус %d, получен %d", tc.status, entry.Status)
			}
		})
	}
}
