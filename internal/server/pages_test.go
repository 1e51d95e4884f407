package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
)

func getPage(t *testing.T, server *testServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	return server.serve(httptest.NewRequest(http.MethodGet, path, http.NoBody), nil)
}

func TestPublicPagesRender(t *testing.T) {
	server := newTestServer(t)
	createFAQ(t, server, "Quem precisa do curso NR-35?")

	testCases := []struct {
		path string
		want string
	}{
		{path: "/", want: "Segurança do trabalho que protege pessoas"},
		{path: "/sobre", want: "Evitare"},
		{path: "/vantagens", want: "Evitare"},
		{path: "/cursos", want: "Evitare"},
		{path: "/monitoramento", want: "Evitare"},
		{path: "/medicina", want: "Evitare"},
		{path: "/faq", want: "Quem precisa do curso NR-35?"},
		{path: "/contato", want: "contato@evitare.com.br"},
		{path: "/inscricao", want: "Enviar inscrição"},
		{path: "/auth", want: "Evitare"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.path, func(t *testing.T) {
			recorder := getPage(t, server, testCase.path)
			expectStatus(t, recorder, http.StatusOK)
			body := recorder.Body.String()
			if !strings.Contains(body, testCase.want) {
				t.Fatalf("page %s is missing %q", testCase.path, testCase.want)
			}
			if !strings.Contains(body, `href="/medicina"`) {
				t.Fatalf("page %s is missing the seeded navigation", testCase.path)
			}
		})
	}
}

func TestUnknownPathsAnswerNotFound(t *testing.T) {
	server := newTestServer(t)

	recorder := getPage(t, server, "/nao-existe")
	expectStatus(t, recorder, http.StatusNotFound)
	if !strings.Contains(recorder.Body.String(), "Página não encontrada") {
		t.Fatalf("expected the not found page, got %s", recorder.Body.String())
	}

	recorder = getPage(t, server, "/api/nao-existe")
	expectStatus(t, recorder, http.StatusNotFound)
	if body := decodeBody[map[string]string](t, recorder); body["error"] != "not_found" {
		t.Fatalf("unexpected api not found body: %v", body)
	}
}

func postRegistrationForm(server *testServer, values url.Values) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/inscricao", strings.NewReader(values.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return server.serve(request, nil)
}

func TestRegistrationFormShowsFieldErrors(t *testing.T) {
	server := newTestServer(t)

	recorder := postRegistrationForm(server, url.Values{
		"name": {"Ana"}, "email": {"ana-sem-arroba"}, "service_type": {"NR-35"},
	})
	expectStatus(t, recorder, http.StatusUnprocessableEntity)
	body := recorder.Body.String()
	for _, want := range []string{"E-mail inválido.", "Campo obrigatório.", `value="Ana"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("form response is missing %q", want)
		}
	}

	stored, err := server.registrations.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list registrations: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("invalid submission was stored: %+v", stored)
	}
}

func TestRegistrationFormRedirectsAfterSubmit(t *testing.T) {
	server := newTestServer(t)

	recorder := postRegistrationForm(server, url.Values{
		"name": {"Ana Souza"}, "email": {"ana@example.com"}, "phone": {"51999990000"},
		"company": {"Metalúrgica Sul"}, "service_type": {"NR-35"},
	})
	expectStatus(t, recorder, http.StatusSeeOther)
	if location := recorder.Header().Get("Location"); location != "/inscricao?enviado=1" {
		t.Fatalf("unexpected redirect %q", location)
	}

	stored, err := server.registrations.List(context.Background(), registrations.StatusPending)
	if err != nil {
		t.Fatalf("list registrations: %v", err)
	}
	if len(stored) != 1 || stored[0].Name != "Ana Souza" {
		t.Fatalf("unexpected stored registrations: %+v", stored)
	}

	recorder = getPage(t, server, "/inscricao?enviado=1")
	expectStatus(t, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "Recebemos sua inscrição") {
		t.Fatalf("expected confirmation notice")
	}
}

func TestCertificatePageVerifiesActiveCertificates(t *testing.T) {
	server := newTestServer(t)
	certificate := createCertificate(t, server, "02-072")

	recorder := getPage(t, server, "/certificado/02-072")
	expectStatus(t, recorder, http.StatusOK)
	body := recorder.Body.String()
	for _, want := range []string{"João da Silva", "APROVADO", testOrigin + "/certificado/02-072", "Certificado válido"} {
		if !strings.Contains(body, want) {
			t.Fatalf("certificate page is missing %q", want)
		}
	}
	if strings.Contains(body, "page-break-after") {
		t.Fatalf("screen mode should not force page breaks")
	}

	recorder = getPage(t, server, "/certificado/02-072?print=1")
	expectStatus(t, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "page-break-after") {
		t.Fatalf("print mode should break pages")
	}

	recorder = getPage(t, server, "/certificado/02-072/qr.png")
	expectStatus(t, recorder, http.StatusOK)
	if !bytes.HasPrefix(recorder.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("expected a PNG QR code")
	}

	recorder = server.doJSON(t, http.MethodDelete, "/api/admin/certificates/"+certificate.ID+"?confirm=true", nil, server.adminCookie(t))
	expectStatus(t, recorder, http.StatusNoContent)

	for _, path := range []string{"/certificado/02-072", "/certificado/99-999"} {
		recorder = getPage(t, server, path)
		expectStatus(t, recorder, http.StatusNotFound)
		if !strings.Contains(recorder.Body.String(), "Certificado não encontrado") {
			t.Fatalf("%s: expected the certificate not found page", path)
		}
	}
	recorder = getPage(t, server, "/certificado/02-072/qr.png")
	expectStatus(t, recorder, http.StatusNotFound)
}
