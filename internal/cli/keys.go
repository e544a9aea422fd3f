package cli

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	mw "github.com/Harshitk-cp/leandeep/internal/api/middleware"
	"github.com/Harshitk-cp/leandeep/internal/config"
	"github.com/spf13/cobra"
)

const apiKeyPrefix = "ld_"

func newKeysCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the API key file read by the server",
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "API key file (default $API_KEYS_FILE)")
	path := func() string {
		if file != "" {
			return file
		}
		return config.APIKeysFile()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Generate a key for a client and append it to the key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := readKeys(path())
			if err != nil {
				return err
			}
			for _, e := range keys {
				if e.Name == args[0] {
					return fmt.Errorf("client %q already has a key", args[0])
				}
			}
			key, err := generateAPIKey()
			if err != nil {
				return err
			}
			keys[key] = mw.KeyEntry{Name: args[0]}
			if err := writeKeys(path(), keys); err != nil {
				return err
			}
			if g.output != outputTable {
				return writeStructured(cmd.OutOrStdout(), g.output, map[string]string{"name": args[0], "key": key})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client: %s\nkey:    %s\n", args[0], key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable NAME",
		Short: "Disable every key of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := readKeys(path())
			if err != nil {
				return err
			}
			n := 0
			for k, e := range keys {
				if e.Name == args[0] && !e.Disabled {
					e.Disabled = true
					keys[k] = e
					n++
				}
			}
			if n == 0 {
				return fmt.Errorf("no active key for client %q", args[0])
			}
			if err := writeKeys(path(), keys); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disabled %d key(s) for %s\n", n, args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clients with masked keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := readKeys(path())
			if err != nil {
				return err
			}
			type row struct {
				Name     string `json:"name"`
				Key      string `json:"key"`
				Disabled bool   `json:"disabled"`
			}
			rows := make([]row, 0, len(keys))
			for k, e := range keys {
				rows = append(rows, row{Name: e.Name, Key: maskKey(k), Disabled: e.Disabled})
			}
			sort.Slice(rows, func(i, j int) bool {
				if rows[i].Name != rows[j].Name {
					return rows[i].Name < rows[j].Name
				}
				return rows[i].Key < rows[j].Key
			})
			if g.output != outputTable {
				return writeStructured(cmd.OutOrStdout(), g.output, rows)
			}
			tw := newTable(cmd.OutOrStdout(), "CLIENT", "KEY", "DISABLED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", r.Name, r.Key, r.Disabled)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b)[:40], nil
}

func maskKey(k string) string {
	if len(k) <= 10 {
		return "***"
	}
	return k[:7] + "..." + k[len(k)-3:]
}

// readKeys loads the key file. A missing file is an empty set.
func readKeys(path string) (map[string]mw.KeyEntry, error) {
	keys := map[string]mw.KeyEntry{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return keys, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return keys, nil
}

func writeKeys(path string, keys map[string]mw.KeyEntry) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
