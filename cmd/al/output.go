package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"adoptline/internal/domain"
	"adoptline/internal/engine"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printAnimals(items []domain.Animal) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Species", "Owner", "Custody", "Selected", "Version"})
	for _, a := range items {
		selected := ""
		if a.Handover != nil {
			selected = a.Handover.SelectedApplicantID
		}
		tw.AppendRow(table.Row{a.ID, a.Name, a.Species, a.OwnerID, a.CustodyStatus, selected, a.Version})
	}
	tw.Render()
	return nil
}

func printRequests(items []domain.AdoptionRequest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Animal", "Applicant", "Owner", "Status", "Owner OK", "Adopter OK", "Updated"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.AnimalID, r.ApplicantID, r.OwnerID, r.Status,
			r.OwnerDeliveryConfirmedAt != nil, r.ApplicantDeliveryConfirmedAt != nil, r.UpdatedAt})
	}
	tw.Render()
	return nil
}

func printConfirm(res engine.ConfirmResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	switch {
	case res.Finalized:
		fmt.Printf("adoption completed: %s now owns %s\n", res.Animal.OwnerID, res.Animal.ID)
	case res.AlreadyCompleted:
		fmt.Println("adoption was already completed")
	default:
		fmt.Printf("confirmation recorded, waiting on %s\n", res.WaitingOn)
	}
	return nil
}

func printHistory(items []domain.HistoryEntry) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"Animal", "Previous owner", "Adopter", "Completed", "Receipt"})
	for _, h := range items {
		receipt := ""
		if h.ReceiptURL != nil {
			receipt = *h.ReceiptURL
		}
		tw.AppendRow(table.Row{h.AnimalID, h.PreviousOwnerID, h.AdopterID, h.CompletedAt, receipt})
	}
	tw.Render()
	return nil
}

func printEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
	for _, ev := range items {
		tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
	}
	tw.Render()
	return nil
}
