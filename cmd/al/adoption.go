package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adoptline/internal/app"
	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/repo"
)

func animalCmd() *cobra.Command {
	an := &cobra.Command{Use: "animal", Short: "Manage listed animals"}
	an.AddCommand(animalPublishCmd())
	an.AddCommand(animalListCmd())
	an.AddCommand(animalShowCmd())
	return an
}

func animalPublishCmd() *cobra.Command {
	var id, name, species, breed string
	var attrs map[string]string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "List an animal for adoption, owned by --actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				a, err := e.PublishAnimal(ctx, engine.PublishAnimalOptions{
					ID:         id,
					OwnerID:    actor,
					Name:       name,
					Species:    species,
					Breed:      breed,
					Attributes: attrs,
				})
				if err != nil {
					return err
				}
				return printAnimals([]domain.Animal{a})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "animal id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "animal name")
	cmd.Flags().StringVar(&species, "species", "", "species")
	cmd.Flags().StringVar(&breed, "breed", "", "breed")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "extra attribute key=value")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func animalListCmd() *cobra.Command {
	var owner, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List animals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListAnimals(ctx, owner, domain.CustodyStatus(status))
				if err != nil {
					return err
				}
				return printAnimals(items)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&status, "status", "", "custody status")
	return cmd
}

func animalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <animal-id>",
		Short: "Show an animal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				an, err := a.Engine.GetAnimal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(an)
			})
		},
	}
}

func requestCmd() *cobra.Command {
	rq := &cobra.Command{Use: "request", Short: "Manage adoption requests"}
	rq.AddCommand(requestCreateCmd())
	rq.AddCommand(requestApproveCmd())
	rq.AddCommand(requestRejectCmd())
	rq.AddCommand(requestListCmd())
	rq.AddCommand(requestShowCmd())
	rq.AddCommand(requestPendingCmd())
	rq.AddCommand(requestFinalizeCmd())
	return rq
}

func requestCreateCmd() *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "create <animal-id>",
		Short: "Apply to adopt an animal as --actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				req, created, err := e.CreateRequest(ctx, engine.CreateRequestOptions{
					AnimalID:    args[0],
					ApplicantID: actor,
					Answers:     parsed,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": req, "created": created})
				}
				if !created {
					fmt.Println("request already exists")
				}
				return printRequests([]domain.AdoptionRequest{req})
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, `questionnaire answer as "question=answer" (repeatable)`)
	return cmd
}

func requestApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request; competing requests are rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				req, err := e.ApproveRequest(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printRequests([]domain.AdoptionRequest{req})
			})
		},
	}
}

func requestRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				req, err := e.RejectRequest(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printRequests([]domain.AdoptionRequest{req})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func requestListCmd() *cobra.Command {
	var role, status, animalID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests of --actor, or of one animal with --animal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if animalID != "" {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					items, err := a.Engine.ListRequestsForAnimal(ctx, animalID)
					if err != nil {
						return err
					}
					return printRequests(items)
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				items, err := e.ListRequestsForUser(ctx, actor, repo.Role(role), domain.RequestStatus(status))
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "applicant or owner (default both)")
	cmd.Flags().StringVar(&status, "status", "", "request status")
	cmd.Flags().StringVar(&animalID, "animal", "", "animal id")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
}

func requestPendingCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Count pending requests of --actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				n, err := e.PendingCount(ctx, actor, repo.Role(role))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": actor, "role": role, "count": n})
				}
				fmt.Println(n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "owner", "applicant, owner or empty for both")
	return cmd
}

func requestFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <request-id>",
		Short: "Complete an approved request whose parties both confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				res, err := e.Finalize(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printConfirm(res)
			})
		},
	}
}

func handoverCmd() *cobra.Command {
	ho := &cobra.Command{Use: "handover", Short: "Run the dual-confirmation handover"}

	initiate := &cobra.Command{
		Use:   "initiate <request-id>",
		Short: "Stage handover to the request's applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				_, an, err := e.InitiateHandover(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printAnimals([]domain.Animal{an})
			})
		},
	}

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <animal-id>",
		Short: "Abort a staged handover and relist the animal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				an, err := e.CancelHandover(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printAnimals([]domain.Animal{an})
			})
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "reason recorded on the request")

	ho.AddCommand(initiate)
	ho.AddCommand(confirmCmd("confirm-owner <animal-id>", "Confirm handover as the owner", func(ctx context.Context, e engine.Engine, actor string, args []string, d domain.DeliveryDetails) (engine.ConfirmResult, error) {
		return e.ConfirmHandoverByOwner(ctx, args[0], actor, d)
	}))
	ho.AddCommand(confirmCmd("confirm-receipt <animal-id>", "Confirm receipt as the selected applicant", func(ctx context.Context, e engine.Engine, actor string, args []string, d domain.DeliveryDetails) (engine.ConfirmResult, error) {
		return e.ConfirmReceiptByApplicant(ctx, args[0], actor, d)
	}))
	ho.AddCommand(cancel)
	return ho
}

func deliveryCmd() *cobra.Command {
	dl := &cobra.Command{Use: "delivery", Short: "Confirm delivery of an approved request"}
	dl.AddCommand(confirmCmd("confirm-owner <request-id> <animal-id>", "Confirm delivery as the owner", func(ctx context.Context, e engine.Engine, actor string, args []string, d domain.DeliveryDetails) (engine.ConfirmResult, error) {
		return e.ConfirmDeliveryAsOwner(ctx, args[0], args[1], actor, d)
	}))
	dl.AddCommand(confirmCmd("confirm-adopter <request-id> <animal-id>", "Confirm delivery as the adopter", func(ctx context.Context, e engine.Engine, actor string, args []string, d domain.DeliveryDetails) (engine.ConfirmResult, error) {
		return e.ConfirmDeliveryAsAdopter(ctx, args[0], args[1], actor, d)
	}))
	return dl
}

type confirmFunc func(ctx context.Context, e engine.Engine, actor string, args []string, d domain.DeliveryDetails) (engine.ConfirmResult, error)

func confirmCmd(use, short string, fn confirmFunc) *cobra.Command {
	var d domain.DeliveryDetails
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(len(strings.Fields(use)) - 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				res, err := fn(ctx, e, actor, args, d)
				if err != nil {
					return err
				}
				return printConfirm(res)
			})
		},
	}
	cmd.Flags().StringVar(&d.Location, "location", "", "handover location")
	cmd.Flags().StringSliceVar(&d.Checklist, "check", nil, "checklist item (repeatable)")
	cmd.Flags().StringSliceVar(&d.PhotoURLs, "photo", nil, "photo URL (repeatable)")
	cmd.Flags().StringVar(&d.Notes, "notes", "", "free-form notes")
	return cmd
}

func historyCmd() *cobra.Command {
	hi := &cobra.Command{Use: "history", Short: "Completed adoptions"}
	var animalID, userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List completed adoptions (defaults to --actor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if animalID == "" && userID == "" {
				userID = strings.TrimSpace(viper.GetString("actor"))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListHistory(ctx, animalID, userID)
				if err != nil {
					return err
				}
				return printHistory(items)
			})
		},
	}
	list.Flags().StringVar(&animalID, "animal", "", "animal id")
	list.Flags().StringVar(&userID, "user", "", "previous owner or adopter id")
	hi.AddCommand(list)
	return hi
}

func parseAnswers(raw []string) ([]domain.Answer, error) {
	out := make([]domain.Answer, 0, len(raw))
	for _, r := range raw {
		q, a, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("invalid --answer %q, want question=answer", r)
		}
		out = append(out, domain.Answer{Question: strings.TrimSpace(q), Answer: strings.TrimSpace(a)})
	}
	return out, nil
}
