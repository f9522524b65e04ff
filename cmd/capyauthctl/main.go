package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte, headers map[string]string) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	var (
		baseURL        = envOr("CAPYAUTH_URL", "http://localhost:8080")
		apiKey         = envOr("CAPYAUTH_API_KEY", "")
		internalSecret = envOr("CAPYAUTH_INTERNAL_SECRET", "")
		out            = envOr("CAPYAUTH_OUT", "text")
		timeout        = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "capyauthctl",
		Short: "CLI de operación para el servicio de SSO y autorización",
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del servicio (env CAPYAUTH_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "API key (env CAPYAUTH_API_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, APIKey: apiKey, OutFormat: out, HTTP: &http.Client{Timeout: timeout}}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping al servicio (GET /healthz)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/healthz", nil, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("ping falló: status=%d body=%s", status, string(body))
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}

	var verifySlug string
	verifyOrgCmd := &cobra.Command{
		Use:   "verify-org",
		Short: "Verificar membership de la API key en una organización",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verifySlug == "" {
				return fmt.Errorf("falta --slug")
			}
			if cl.APIKey == "" {
				return fmt.Errorf("falta API key (flag --api-key o env CAPYAUTH_API_KEY)")
			}
			body, _ := json.Marshal(map[string]string{
				"apiKey":           cl.APIKey,
				"organizationSlug": verifySlug,
			})
			status, resp, err := cl.do("POST", "/api/verify-organization", body, nil)
			if err != nil {
				return err
			}
			cl.print(status, resp)
			if status/100 != 2 {
				return fmt.Errorf("status=%d", status)
			}
			return nil
		},
	}
	verifyOrgCmd.Flags().StringVar(&verifySlug, "slug", "", "slug de la organización")

	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Operaciones sobre la API key actual",
	}

	keyInfoCmd := &cobra.Command{
		Use:   "info",
		Short: "Info de la key y su usuario dueño",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := cl.do("GET", "/api/key-info", nil, nil)
			if err != nil {
				return err
			}
			cl.print(status, resp)
			if status/100 != 2 {
				return fmt.Errorf("status=%d", status)
			}
			return nil
		},
	}

	keyOrgsCmd := &cobra.Command{
		Use:   "orgs",
		Short: "Organizaciones del dueño de la key",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := cl.do("GET", "/api/key-organizations", nil, nil)
			if err != nil {
				return err
			}
			cl.print(status, resp)
			if status/100 != 2 {
				return fmt.Errorf("status=%d", status)
			}
			return nil
		},
	}
	keyCmd.AddCommand(keyInfoCmd, keyOrgsCmd)

	membersCmd := &cobra.Command{
		Use:   "members [slug]",
		Short: "Listar integrantes de una organización",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := cl.do("GET", "/api/organization-members?organizationSlug="+args[0], nil, nil)
			if err != nil {
				return err
			}
			cl.print(status, resp)
			if status/100 != 2 {
				return fmt.Errorf("status=%d", status)
			}
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate [slug]",
		Short: "Aplicar migraciones de esquema a un tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers := map[string]string{}
			if internalSecret != "" {
				headers["Authorization"] = "Bearer " + internalSecret
			}
			status, resp, err := cl.do("POST", "/api/internal/tenants/"+args[0]+"/migrations/apply", []byte("{}"), headers)
			if err != nil {
				return err
			}
			cl.print(status, resp)
			if status/100 != 2 {
				return fmt.Errorf("status=%d", status)
			}
			return nil
		},
	}
	migrateCmd.Flags().StringVar(&internalSecret, "internal-secret", internalSecret, "secreto interno (env CAPYAUTH_INTERNAL_SECRET)")

	root.AddCommand(pingCmd, verifyOrgCmd, keyCmd, membersCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
