// cmd/tools/registry-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"apns-workers/internal/common/errors"
	"apns-workers/internal/common/validation"
	"apns-workers/pkg/registry"
)

const defaultPath = "configs/activity-registry.json"

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	default:
		help()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	id := fs.String("id", "", "Activity ID (e.g., send-push-notification)")
	displayName := fs.String("displayName", "", "Display Name")
	description := fs.String("description", "", "Description")
	category := fs.String("category", "push", "Category")
	taskType := fs.String("taskType", "", "Zeebe task type; defaults to id")
	version := fs.String("version", "1.0.0", "Version")
	status := fs.String("status", "planned", "Implementation Status (planned, in-progress, implemented)")
	fs.Parse(args)

	if *id == "" || *displayName == "" || *description == "" {
		fs.Usage()
		return fmt.Errorf("id, displayName and description are required")
	}
	if *taskType == "" {
		*taskType = *id
	}

	reg, err := registry.LoadRegistry(*path)
	if os.IsNotExist(err) {
		reg, err = &registry.ActivityRegistry{Version: "1.0.0"}, nil
	}
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if _, err := reg.Find(*taskType); err == nil {
		return fmt.Errorf("task type %s already registered", *taskType)
	}

	reg.Activities = append(reg.Activities, registry.Activity{
		ID:                   *id,
		DisplayName:          *displayName,
		Description:          *description,
		Category:             *category,
		Version:              *version,
		TaskType:             *taskType,
		ImplementationStatus: *status,
		InputSchema:          map[string]interface{}{"type": "object"},
		OutputSchema:         map[string]interface{}{"type": "object"},
		ErrorCodes:           []string{},
		Timeout:              "10s",
		Workflows:            []string{},
		Tags:                 []string{"apns"},
	})
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	if err := reg.Save(*path); err != nil {
		return err
	}
	fmt.Printf("Added activity: %s\n", *id)
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	taskType := fs.String("taskType", "", "Task type to update")
	field := fs.String("field", "", "Field to update (status, version, displayName, description, timeout, retries)")
	value := fs.String("value", "", "New value for the field")
	fs.Parse(args)

	if *taskType == "" || *field == "" || *value == "" {
		fs.Usage()
		return fmt.Errorf("taskType, field and value are required")
	}

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	act, err := reg.Find(*taskType)
	if err != nil {
		return err
	}

	switch *field {
	case "status":
		act.ImplementationStatus = *value
	case "version":
		act.Version = *value
	case "displayName":
		act.DisplayName = *value
	case "description":
		act.Description = *value
	case "timeout":
		if _, err := time.ParseDuration(*value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		act.Timeout = *value
	case "retries":
		retries, err := strconv.Atoi(*value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		act.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", *field)
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	if err := reg.Save(*path); err != nil {
		return err
	}
	fmt.Printf("Updated %s: %s = %s\n", *taskType, *field, *value)
	return nil
}

// runValidate also compiles every input schema the workers would load.
func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	fs.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	known := make(map[string]bool, len(errors.KnownCodes))
	for _, code := range errors.KnownCodes {
		known[string(code)] = true
	}
	if err := reg.Validate(known); err != nil {
		return err
	}

	for _, act := range reg.Activities {
		if len(act.InputSchema) == 0 {
			continue
		}
		if _, err := validation.NewValidator(act.InputSchema); err != nil {
			return fmt.Errorf("activity %s: %w", act.ID, err)
		}
		if _, err := time.ParseDuration(act.Timeout); act.Timeout != "" && err != nil {
			return fmt.Errorf("activity %s: invalid timeout %q", act.ID, act.Timeout)
		}
	}

	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  add      Add a new activity to the registry
  update   Update an existing activity's field
  validate Validate the registry file and compile its input schemas
  help     Show this help message

Examples:
  registry-updater add -id process-apns-feedback -displayName "Process APNs Feedback" -description "Drains the feedback service"
  registry-updater update -taskType send-push-notification -field retries -value 5
  registry-updater validate -path configs/activity-registry.json`)
}
