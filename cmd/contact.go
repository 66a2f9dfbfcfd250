package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classcomm/classcomm/internal/models"
	"github.com/classcomm/classcomm/internal/output"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
)

var contactCmd = &cobra.Command{
	Use:     "contact",
	Short:   "Manage parent and guardian contacts",
	GroupID: "records",
}

var contactAddCmd = &cobra.Command{
	Use:   "add <student-id> <name>",
	Short: "Add a contact for a student",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		relationship, _ := cmd.Flags().GetString("relationship")
		email, _ := cmd.Flags().GetString("email")
		phone, _ := cmd.Flags().GetString("phone")
		method, _ := cmd.Flags().GetString("method")
		language, _ := cmd.Flags().GetString("language")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		studentID, err := resolveRecordID(store, "students", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		contact := models.Contact{
			ID:                uuid.NewString(),
			UserID:            syncconfig.GetUserID(),
			StudentID:         studentID,
			Name:              args[1],
			Relationship:      models.Relationship(relationship),
			Email:             email,
			Phone:             phone,
			PreferredMethod:   models.ContactMethod(method),
			PreferredLanguage: language,
			CreatedAt:         time.Now().UnixMilli(),
		}
		doc, err := json.Marshal(contact)
		if err != nil {
			return fmt.Errorf("encode contact: %w", err)
		}
		if _, err := store.Put("contacts", contact.ID, doc); err != nil {
			output.Error("add contact: %v", err)
			return err
		}
		output.Success("Added %s (%s) for student %s", contact.Name, contact.Relationship, studentID)
		return nil
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list [student-id]",
	Short: "List contacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var studentID string
		if len(args) == 1 {
			studentID, err = resolveRecordID(store, "students", args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
		}

		recs, err := store.List("contacts")
		if err != nil {
			output.Error("list contacts: %v", err)
			return err
		}

		var contacts []models.Contact
		for _, rec := range recs {
			var c models.Contact
			if err := json.Unmarshal(rec.Data, &c); err != nil {
				return fmt.Errorf("decode contact %s: %w", rec.ID, err)
			}
			if studentID != "" && c.StudentID != studentID {
				continue
			}
			contacts = append(contacts, c)
		}
		sort.Slice(contacts, func(i, j int) bool { return contacts[i].Name < contacts[j].Name })

		if asJSON {
			return output.JSON(contacts)
		}
		if len(contacts) == 0 {
			output.Info("no contacts")
			return nil
		}
		for _, c := range contacts {
			reach := c.Email
			if reach == "" {
				reach = c.Phone
			}
			fmt.Printf("%-25s %-10s %-30s %s\n", c.Name, c.Relationship, reach, c.StudentID[:8])
		}
		return nil
	},
}

var contactRmCmd = &cobra.Command{
	Use:   "rm <contact-id>",
	Short: "Delete a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "contacts", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := store.Delete("contacts", id); err != nil {
			output.Error("delete contact: %v", err)
			return err
		}
		output.Success("Deleted contact %s", id)
		return nil
	},
}

func init() {
	contactAddCmd.Flags().Var(
		newChoice(string(models.RelationshipParent), "parent", "guardian", "emergency"),
		"relationship", "parent, guardian or emergency")
	contactAddCmd.Flags().String("email", "", "email address")
	contactAddCmd.Flags().String("phone", "", "phone number")
	contactAddCmd.Flags().Var(newChoice("", "email", "phone", "either"), "method", "preferred method: email, phone or either")
	contactAddCmd.Flags().String("language", "", "preferred language")
	contactListCmd.Flags().Bool("json", false, "output as JSON")
	contactCmd.AddCommand(contactAddCmd, contactListCmd, contactRmCmd)
	rootCmd.AddCommand(contactCmd)
}
