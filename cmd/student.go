package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classcomm/classcomm/internal/localstore"
	"github.com/classcomm/classcomm/internal/models"
	"github.com/classcomm/classcomm/internal/output"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
)

var studentCmd = &cobra.Command{
	Use:     "student",
	Short:   "Manage the student roster",
	GroupID: "records",
}

var studentAddCmd = &cobra.Command{
	Use:   "add <first> <last>",
	Short: "Add a student",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		grade, _ := cmd.Flags().GetString("grade")
		class, _ := cmd.Flags().GetString("class")
		notes, _ := cmd.Flags().GetString("notes")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		student := models.Student{
			ID:        uuid.NewString(),
			UserID:    syncconfig.GetUserID(),
			FirstName: args[0],
			LastName:  args[1],
			Grade:     grade,
			Class:     class,
			Notes:     notes,
			CreatedAt: time.Now().UnixMilli(),
		}
		doc, err := json.Marshal(student)
		if err != nil {
			return fmt.Errorf("encode student: %w", err)
		}
		if _, err := store.Put("students", student.ID, doc); err != nil {
			output.Error("add student: %v", err)
			return err
		}
		output.Success("Added %s %s", student.FirstName, student.LastName)
		return nil
	},
}

var studentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List students",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.List("students")
		if err != nil {
			output.Error("list students: %v", err)
			return err
		}

		students := make([]models.Student, 0, len(recs))
		for _, rec := range recs {
			var s models.Student
			if err := json.Unmarshal(rec.Data, &s); err != nil {
				return fmt.Errorf("decode student %s: %w", rec.ID, err)
			}
			students = append(students, s)
		}
		sort.Slice(students, func(i, j int) bool {
			if students[i].LastName != students[j].LastName {
				return students[i].LastName < students[j].LastName
			}
			return students[i].FirstName < students[j].FirstName
		})

		if asJSON {
			return output.JSON(students)
		}
		if len(students) == 0 {
			output.Info("no students")
			return nil
		}
		for i := range students {
			fmt.Println(output.FormatStudent(&students[i]))
		}
		return nil
	},
}

var studentRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a student",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "students", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := store.Delete("students", id); err != nil {
			output.Error("remove student: %v", err)
			return err
		}
		output.Success("Removed %s", id)
		return nil
	},
}

// openStore opens the local database under the configured data directory.
func openStore() (*localstore.Store, error) {
	store, err := localstore.Open(getBaseDir())
	if err != nil {
		output.Error("open local store: %v", err)
		return nil, err
	}
	return store, nil
}

// resolveRecordID accepts a full record id or a unique prefix of one.
func resolveRecordID(store *localstore.Store, table, arg string) (string, error) {
	if _, err := store.Get(table, arg); err == nil {
		return arg, nil
	}
	recs, err := store.List(table)
	if err != nil {
		return "", err
	}
	var match string
	for _, rec := range recs {
		if len(arg) > 0 && len(rec.ID) >= len(arg) && rec.ID[:len(arg)] == arg {
			if match != "" {
				return "", fmt.Errorf("ambiguous id prefix %q", arg)
			}
			match = rec.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no %s record matching %q", table, arg)
	}
	return match, nil
}

func init() {
	studentAddCmd.Flags().String("grade", "", "grade level")
	studentAddCmd.Flags().String("class", "", "class or homeroom")
	studentAddCmd.Flags().String("notes", "", "free-form notes")
	studentListCmd.Flags().Bool("json", false, "output as JSON")
	studentCmd.AddCommand(studentAddCmd, studentListCmd, studentRmCmd)
	rootCmd.AddCommand(studentCmd)
}
