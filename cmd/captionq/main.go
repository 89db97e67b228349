package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL   string `yaml:"baseUrl"`
	Token     string `yaml:"token"`
	SessionID string `yaml:"sessionId"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// globals are the flag/env/profile values every remote command resolves.
type globals struct {
	baseURL     string
	token       string
	sessionID   string
	profileName string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (c *client) request(method, path string, body any, headers map[string]string) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func main() {
	g := &globals{
		baseURL:     getenv("CAPTIONQ_BASE_URL", "http://localhost:8080"),
		token:       getenv("CAPTIONQ_TOKEN", ""),
		sessionID:   getenv("CAPTIONQ_SESSION", ""),
		profileName: getenv("CAPTIONQ_PROFILE", ""),
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "captionq",
		Short: "captionQ CLI",
		Long:  "captionQ CLI for captioning images locally or through a captionQ server.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL for captionQ")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "Session token")
	root.PersistentFlags().StringVar(&g.sessionID, "session", g.sessionID, "Session id")
	root.PersistentFlags().StringVar(&g.profileName, "profile", g.profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		prof := cfg.Profiles[resolveProfileName(g.profileName, cfg)]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("CAPTIONQ_BASE_URL")); v != "" {
				g.baseURL = v
			} else if prof.BaseURL != "" {
				g.baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("token") && strings.TrimSpace(os.Getenv("CAPTIONQ_TOKEN")) == "" && prof.Token != "" {
			g.token = prof.Token
		}
		if !flags.Changed("session") && strings.TrimSpace(os.Getenv("CAPTIONQ_SESSION")) == "" && prof.SessionID != "" {
			g.sessionID = prof.SessionID
		}
		return nil
	}

	root.AddCommand(
		initCmd(g, ui),
		sessionCmd(g, ui),
		uploadCmd(g, ui),
		resultsCmd(g, ui),
		exportCmd(g, ui),
		captionCmd(ui),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err)
		os.Exit(1)
	}
}

func initCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Configure a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			name := resolveProfileName(g.profileName, cfg)
			prof := cfg.Profiles[name]

			r := bufio.NewReader(os.Stdin)
			fmt.Println(ui.title("captionQ setup"), ui.dim("("+path+")"))
			prof.BaseURL = prompt(r, "Base URL", firstNonEmpty(prof.BaseURL, g.baseURL))
			if !strings.HasPrefix(prof.BaseURL, "http") {
				return errors.New("base URL must start with http:// or https://")
			}
			if !isLocalURL(prof.BaseURL) && strings.HasPrefix(prof.BaseURL, "http://") {
				fmt.Println(ui.warn("[WARN]"), "session tokens will be sent over plain http")
			}
			prof.SessionID = prompt(r, "Session id (blank to create later)", prof.SessionID)
			if prof.SessionID != "" {
				tok, err := promptSecret(fmt.Sprintf("Session token [%s]", maskToken(prof.Token)))
				if err != nil {
					return err
				}
				if tok != "" {
					prof.Token = tok
				}
			}

			cfg.Profiles[name] = prof
			cfg.CurrentProfile = name
			if err := saveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s Profile %q saved\n", ui.ok("[OK]"), name)
			return nil
		},
	}
}

func sessionCmd(g *globals, ui *ui) *cobra.Command {
	var webhook string
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a session and store its token in the profile",
		Example: "captionq session create --webhook https://example.com/hooks/captions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(g.baseURL, "")
			body := map[string]any{}
			if webhook != "" {
				body["webhook"] = webhook
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Creating session..."
			spin.Start()
			status, resp, err := c.request("POST", "/v1/captionq/sessions", body, nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Session struct {
					ID        string    `json:"id"`
					ExpiresAt time.Time `json:"expiresAt"`
				} `json:"session"`
				Token string `json:"token"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}

			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			name := resolveProfileName(g.profileName, cfg)
			prof := cfg.Profiles[name]
			prof.BaseURL = g.baseURL
			prof.SessionID = out.Session.ID
			prof.Token = out.Token
			cfg.Profiles[name] = prof
			cfg.CurrentProfile = name
			if err := saveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s Session created: %s %s\n", ui.ok("[OK]"), out.Session.ID,
				ui.dim("(expires "+out.Session.ExpiresAt.Local().Format(time.RFC822)+")"))
			return nil
		},
	}
	create.Flags().StringVar(&webhook, "webhook", "", "Result webhook URL")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient(g)
			if err != nil {
				return err
			}
			status, resp, err := c.request("GET", sessionPath(g), nil, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Images    []json.RawMessage `json:"images"`
				Results   []json.RawMessage `json:"results"`
				LastError string            `json:"lastError"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s: %s | %s: %d | %s: %d\n",
				ui.info("SESSION"), g.sessionID,
				ui.info("IMAGES"), len(out.Images),
				ui.ok("RESULTS"), len(out.Results),
			)
			if out.LastError != "" {
				fmt.Printf("%s %s\n", ui.err("LAST ERROR"), out.LastError)
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear images, results and the last error",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient(g)
			if err != nil {
				return err
			}
			status, resp, err := c.request("DELETE", sessionPath(g), nil, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Session %s reset\n", ui.ok("[OK]"), g.sessionID)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session operations",
	}
	cmd.AddCommand(create, show, reset)
	return cmd
}

func uploadCmd(g *globals, ui *ui) *cobra.Command {
	var (
		wait           bool
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:     "upload <file>",
		Short:   "Upload an image to the current session",
		Example: "captionq upload logo.svg --wait",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient(g)
			if err != nil {
				return err
			}
			up, err := readImage(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{
				"file":        up.Payload,
				"fileName":    up.FileName,
				"contentType": up.ContentType,
			}
			path := sessionPath(g) + "/images"
			if wait {
				path += "?wait=true"
			}
			var headers map[string]string
			if idempotencyKey != "" {
				headers = map[string]string{"Idempotency-Key": idempotencyKey}
			}

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Uploading " + up.FileName + "..."
			spin.Start()
			status, resp, err := c.request("POST", path, body, headers)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			if !wait {
				var run struct {
					ID string `json:"id"`
				}
				_ = json.Unmarshal(resp, &run)
				if status == http.StatusOK {
					fmt.Printf("%s Already accepted as run %s\n", ui.warn("[WARN]"), run.ID)
					return nil
				}
				fmt.Printf("%s Pipeline started: %s\n", ui.ok("[OK]"), run.ID)
				return nil
			}
			var res struct {
				FileName string `json:"fileName"`
				Output   string `json:"output"`
			}
			if err := json.Unmarshal(resp, &res); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s %s: %s\n", ui.ok("[OK]"), res.FileName, captionText(res.Output))
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the caption")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key")
	return cmd
}

func resultsCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "List captions of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient(g)
			if err != nil {
				return err
			}
			status, resp, err := c.request("GET", sessionPath(g)+"/results", nil, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out []struct {
				FileName string `json:"fileName"`
				Image    string `json:"image"`
				Output   string `json:"output"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			if len(out) == 0 {
				fmt.Println(ui.dim("no results yet"))
				return nil
			}
			for _, r := range out {
				fmt.Printf("%s %s\n", ui.info(emptyOr(r.FileName, r.Image)+":"), captionText(r.Output))
			}
			return nil
		},
	}
}

func exportCmd(g *globals, ui *ui) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Download the session captions as CSV",
		Example: "captionq export -o captions.csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sessionClient(g)
			if err != nil {
				return err
			}
			status, resp, err := c.request("GET", sessionPath(g)+"/export.csv", nil, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			if output == "" || output == "-" {
				fmt.Println(string(resp))
				return nil
			}
			if err := os.WriteFile(output, resp, 0o644); err != nil {
				return err
			}
			fmt.Printf("%s Wrote %s\n", ui.ok("[OK]"), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func sessionClient(g *globals) (*client, error) {
	if strings.TrimSpace(g.sessionID) == "" {
		return nil, errors.New("session is required (run `captionq session create` or set --session)")
	}
	if strings.TrimSpace(g.token) == "" {
		return nil, errors.New("token is required (run `captionq session create` or set --token)")
	}
	return newClient(g.baseURL, g.token), nil
}

func sessionPath(g *globals) string {
	return "/v1/captionq/sessions/" + url.PathEscape(g.sessionID)
}

// captionText drops the model's "Caption: " prefix for display.
func captionText(output string) string {
	return strings.TrimPrefix(output, "Caption: ")
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func isLocalURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return host == "localhost" || host == "127.0.0.1"
}

func helpTemplate(ui *ui) string {
	title := ui.title("captionq")
	return fmt.Sprintf(`%s: CLI for captionQ

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  captionq caption logo.svg photo.png --csv captions.csv
  captionq init
  captionq session create
  captionq upload logo.svg --wait
  captionq export -o captions.csv

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("CAPTIONQ_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".captionq", "config.yaml")
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("CAPTIONQ_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
