package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pocketllm/internal/common/fsutil"
	"pocketllm/internal/profile"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Manage stored configuration profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("profile requires a subcommand: list|show|save|delete|export|import")
		},
	}

	list := &cobra.Command{Use: "list", Short: "List profile names", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		names, err := store.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	}}

	var showFormat string
	show := &cobra.Command{Use: "show <name>", Short: "Print a profile", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		c, err := store.Load(args[0])
		if err != nil {
			return err
		}
		f, err := profile.ParseFormat(showFormat)
		if err != nil {
			return err
		}
		b, err := profile.Encode(c, f)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}}
	show.Flags().StringVar(&showFormat, "format", "json", "Output format: json|yaml|toml")

	var sets []string
	save := &cobra.Command{
		Use:     "save <name>",
		Short:   "Create or overwrite a profile from key=value fields",
		Long:    "Fields use record keys (nCtx, temp, topK, promptTemplate, ...). Fields not given, or that fail to parse, take their defaults.",
		Example: "  pocketllm profile save creative --set temp=1.2 --set topK=80",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{}
			for _, kv := range sets {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--set %q: want key=value", kv)
				}
				values[strings.TrimSpace(k)] = v
			}
			values["name"] = args[0]
			store, err := a.store()
			if err != nil {
				return err
			}
			c := profile.FromForm(values)
			if err := store.Save(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", c.Name)
			return nil
		},
	}
	save.Flags().StringArrayVar(&sets, "set", nil, "Field as key=value (repeatable)")

	del := &cobra.Command{Use: "delete <name>", Aliases: []string{"rm"}, Short: "Delete a profile", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		if _, err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	}}

	var exportFormat, exportOut string
	export := &cobra.Command{Use: "export <name>", Short: "Write a profile as JSON, YAML or TOML", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		c, err := store.Load(args[0])
		if err != nil {
			return err
		}
		fs := exportFormat
		if fs == "" && exportOut != "" {
			fs = filepath.Ext(exportOut)
		}
		f, err := profile.ParseFormat(fs)
		if err != nil {
			return err
		}
		b, err := profile.Encode(c, f)
		if err != nil {
			return err
		}
		if exportOut == "" {
			_, err = cmd.OutOrStdout().Write(b)
			return err
		}
		return fsutil.WriteFileAtomic(exportOut, b, 0o644)
	}}
	export.Flags().StringVar(&exportFormat, "format", "", "Output format: json|yaml|toml (default from --out extension, else json)")
	export.Flags().StringVar(&exportOut, "out", "", "Output file (default stdout)")

	var importName string
	imp := &cobra.Command{Use: "import <file>", Short: "Import a profile from a JSON, YAML or TOML file", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		f, err := profile.FormatFromPath(path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		c, err := profile.Decode(data, f, base)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if importName != "" {
			c.Name = importName
		}
		store, err := a.store()
		if err != nil {
			return err
		}
		if err := store.Save(c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", c.Name)
		return nil
	}}
	imp.Flags().StringVar(&importName, "name", "", "Store under this name instead of the one in the file")

	cmd.AddCommand(list, show, save, del, export, imp)
	return cmd
}
