package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classcomm/classcomm/internal/input"
	"github.com/classcomm/classcomm/internal/models"
	"github.com/classcomm/classcomm/internal/output"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	Short:   "Reusable message templates",
	GroupID: "records",
}

var templateAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a message template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		category, _ := cmd.Flags().GetString("category")
		body, err := input.Expand(body)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		tone, _ := cmd.Flags().GetString("tone")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		tpl := models.Template{
			ID:        uuid.NewString(),
			UserID:    syncconfig.GetUserID(),
			Name:      args[0],
			Category:  models.TemplateCategory(category),
			Subject:   subject,
			Body:      body,
			Tone:      models.Tone(tone),
			CreatedAt: time.Now().UnixMilli(),
		}
		doc, err := json.Marshal(tpl)
		if err != nil {
			return fmt.Errorf("encode template: %w", err)
		}
		if _, err := store.Put("templates", tpl.ID, doc); err != nil {
			output.Error("add template: %v", err)
			return err
		}
		output.Success("Added template %q", tpl.Name)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates, shared defaults included",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		category, _ := cmd.Flags().GetString("category")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.List("templates")
		if err != nil {
			output.Error("list templates: %v", err)
			return err
		}

		var tpls []models.Template
		for _, rec := range recs {
			var tpl models.Template
			if err := json.Unmarshal(rec.Data, &tpl); err != nil {
				return fmt.Errorf("decode template %s: %w", rec.ID, err)
			}
			if category != "" && string(tpl.Category) != category {
				continue
			}
			tpls = append(tpls, tpl)
		}
		sort.Slice(tpls, func(i, j int) bool { return tpls[i].Name < tpls[j].Name })

		if asJSON {
			return output.JSON(tpls)
		}
		if len(tpls) == 0 {
			output.Info("no templates")
			return nil
		}
		for _, tpl := range tpls {
			marker := " "
			if tpl.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %-30s %-12s %s\n", marker, tpl.Name, tpl.Category, tpl.Subject)
		}
		return nil
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <template-id>",
	Short: "Show a template's full body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "templates", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rec, err := store.Get("templates", id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		var tpl models.Template
		if err := json.Unmarshal(rec.Data, &tpl); err != nil {
			return fmt.Errorf("decode template %s: %w", id, err)
		}

		fmt.Println(output.SectionHeader(tpl.Name))
		if tpl.Subject != "" {
			fmt.Printf("Subject: %s\n\n", tpl.Subject)
		}
		fmt.Println(tpl.Body)
		return nil
	},
}

var templateRmCmd = &cobra.Command{
	Use:   "rm <template-id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "templates", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rec, err := store.Get("templates", id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		var tpl models.Template
		if err := json.Unmarshal(rec.Data, &tpl); err != nil {
			return fmt.Errorf("decode template %s: %w", id, err)
		}
		if tpl.IsDefault {
			err := fmt.Errorf("%q is a shared default template", tpl.Name)
			output.Error("%v", err)
			return err
		}

		if _, err := store.Delete("templates", id); err != nil {
			output.Error("delete template: %v", err)
			return err
		}
		output.Success("Deleted template %q", tpl.Name)
		return nil
	},
}

func init() {
	templateAddCmd.Flags().String("subject", "", "default subject line")
	templateAddCmd.Flags().String("body", "", "template body (- for stdin, @file to read a file)")
	templateAddCmd.Flags().Var(
		newChoice(string(models.CategoryGeneral), "academic", "behavior", "attendance", "celebration", "concern", "general"),
		"category", "academic, behavior, attendance, celebration, concern or general")
	templateAddCmd.Flags().Var(newChoice("", "professional", "empathetic", "firm", "celebratory"), "tone", "professional, empathetic, firm or celebratory")
	templateListCmd.Flags().Bool("json", false, "output as JSON")
	templateListCmd.Flags().String("category", "", "filter by category")
	templateCmd.AddCommand(templateAddCmd, templateListCmd, templateShowCmd, templateRmCmd)
	rootCmd.AddCommand(templateCmd)
}
