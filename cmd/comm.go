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

var commCmd = &cobra.Command{
	Use:     "comm",
	Short:   "Track parent communications",
	GroupID: "records",
}

var commLogCmd = &cobra.Command{
	Use:   "log <student-id> <subject>",
	Short: "Log a communication for a student",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		method, _ := cmd.Flags().GetString("method")
		message, err := input.Expand(message)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		tone, _ := cmd.Flags().GetString("tone")
		sent, _ := cmd.Flags().GetBool("sent")

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

		comm := models.Communication{
			ID:        uuid.NewString(),
			UserID:    syncconfig.GetUserID(),
			StudentID: studentID,
			Subject:   args[1],
			Message:   message,
			Method:    method,
			Tone:      models.Tone(tone),
			Status:    models.CommStatusDraft,
			CreatedAt: time.Now().UnixMilli(),
		}
		if sent {
			comm.Status = models.CommStatusSent
			comm.SentAt = comm.CreatedAt
		}

		doc, err := json.Marshal(comm)
		if err != nil {
			return fmt.Errorf("encode communication: %w", err)
		}
		if _, err := store.Put("communications", comm.ID, doc); err != nil {
			output.Error("log communication: %v", err)
			return err
		}
		output.Success("Logged %q for %s", comm.Subject, studentID)
		return nil
	},
}

var commListCmd = &cobra.Command{
	Use:   "list [student-id]",
	Short: "List communications, newest first",
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

		recs, err := store.List("communications")
		if err != nil {
			output.Error("list communications: %v", err)
			return err
		}

		var comms []models.Communication
		for _, rec := range recs {
			var c models.Communication
			if err := json.Unmarshal(rec.Data, &c); err != nil {
				return fmt.Errorf("decode communication %s: %w", rec.ID, err)
			}
			if studentID != "" && c.StudentID != studentID {
				continue
			}
			comms = append(comms, c)
		}
		sort.Slice(comms, func(i, j int) bool {
			return comms[i].CreatedAt > comms[j].CreatedAt
		})

		if asJSON {
			return output.JSON(comms)
		}
		if len(comms) == 0 {
			output.Info("no communications")
			return nil
		}
		for _, c := range comms {
			when := output.FormatTimeAgo(time.UnixMilli(c.CreatedAt))
			fmt.Printf("%s  %s  [%s]  %s\n", when, c.Subject, c.Status, c.StudentID[:8])
		}
		return nil
	},
}

func init() {
	commLogCmd.Flags().String("message", "", "message body (- for stdin, @file to read a file)")
	commLogCmd.Flags().Var(newChoice("", "email", "phone", "in-person", "note"), "method", "email, phone, in-person or note")
	commLogCmd.Flags().Var(newChoice("", "professional", "empathetic", "firm", "celebratory"), "tone", "professional, empathetic, firm or celebratory")
	commLogCmd.Flags().Bool("sent", false, "mark as sent now")
	commListCmd.Flags().Bool("json", false, "output as JSON")
	commCmd.AddCommand(commLogCmd, commListCmd)
	rootCmd.AddCommand(commCmd)
}
