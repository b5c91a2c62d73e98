package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pdfrelay/internal/domain"
	"pdfrelay/internal/extract"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func extractCmd() *cobra.Command {
	var (
		format      string
		sections    bool
		policyFile  string
		withoutText bool
	)

	cmd := &cobra.Command{
		Use:   "extract <file.pdf>",
		Short: "Parse a local PDF and print the extracted document",
		Long:  "Runs the same extraction the relay performs on received PDFs and prints the result as JSON or YAML.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ecfg := extract.Config{Sections: sections, Logger: logger}
			if policyFile != "" {
				policy, err := extract.LoadTitlePolicy(policyFile)
				if err != nil {
					return err
				}
				ecfg.TitlePolicy = &policy
			}
			ex := extract.New(ecfg)

			if !ex.Validate(buf) {
				return fmt.Errorf("%s is not a PDF file", args[0])
			}
			doc, err := ex.Extract(buf, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if withoutText {
				doc.TextContent = ""
			}
			return writeDocument(cmd.OutOrStdout(), doc, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&sections, "sections", false, "detect titled sections")
	cmd.Flags().StringVar(&policyFile, "title-policy", "", "YAML file overriding the title heuristic")
	cmd.Flags().BoolVar(&withoutText, "no-text", false, "omit the full text from the output")
	return cmd
}

func writeDocument(w io.Writer, doc *domain.ExtractedDocument, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
