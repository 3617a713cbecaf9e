package main

import (
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/tilth/internal/app"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Admin commands share one shape: save creates, update overlays the flags
// that were set onto the current record, delete asks first.

func idFlag() cli.Flag {
	return &cli.StringFlag{Name: "id", Required: true, Usage: "Record id"}
}

// adminCmd assembles the save/update/delete subcommands for one record type.
// fields is called once per subcommand so no flag value is shared.
func adminCmd(name, usage string, fields func() []cli.Flag, save, update, remove cli.ActionFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Subcommands: []*cli.Command{
			{Name: "save", Usage: "Create a new " + name, Flags: fields(), Action: save},
			{Name: "update", Usage: "Change fields of an existing " + name, Flags: append([]cli.Flag{idFlag()}, fields()...), Action: update},
			{Name: "delete", Usage: "Delete a " + name, Flags: []cli.Flag{
				idFlag(),
				&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip confirmation"},
			}, Action: remove},
		},
	}
}

// current loads the admin lists so updates start from the stored record.
// A failed refresh is not fatal: the update then carries only the flags.
func current(c *cli.Context, a *app.App) {
	_ = a.Admin.Refresh(c.Context)
}

func confirmDelete(c *cli.Context, kind string) (bool, error) {
	return confirm(c, "Delete "+kind+" "+c.String("id")+"?")
}

func cancelled() error {
	return outputJSON(map[string]any{"outcome": "cancelled"})
}

// tutorialCmd creates the tutorial command.
func tutorialCmd(e *env) *cli.Command {
	fields := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "Title (English)"},
			&cli.StringFlag{Name: "title-te", Usage: "Title (Telugu)"},
			&cli.StringFlag{Name: "category", Usage: "Category"},
			&cli.StringFlag{Name: "video-url", Usage: "Video URL"},
			&cli.StringFlag{Name: "thumbnail", Usage: "Thumbnail URL"},
			&cli.StringFlag{Name: "description", Usage: "Description (English)"},
			&cli.StringFlag{Name: "description-te", Usage: "Description (Telugu)"},
		}
	}
	apply := func(c *cli.Context, t *model.Tutorial) {
		setString(c, "title", &t.Title)
		setString(c, "title-te", &t.TitleTE)
		setString(c, "category", &t.Category)
		setString(c, "video-url", &t.VideoURL)
		setString(c, "thumbnail", &t.Thumbnail)
		setString(c, "description", &t.Description)
		setString(c, "description-te", &t.DescriptionTE)
	}

	return adminCmd("tutorial", "Manage tutorials", fields,
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			var t model.Tutorial
			apply(c, &t)
			saved, outcome, err := a.Admin.SaveTutorial(c.Context, t)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(saved, outcome))
		},
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			current(c, a)
			t, _ := a.Admin.Tutorials.Get(c.String("id"))
			t.ID = c.String("id")
			apply(c, &t)
			outcome, err := a.Admin.UpdateTutorial(c.Context, t)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(t, outcome))
		},
		func(c *cli.Context) error {
			return deleteRecord(c, e, "tutorial", func(a *app.App, id string) (optimistic.Outcome, error) {
				return a.Admin.DeleteTutorial(c.Context, id)
			})
		},
	)
}

// supplierCmd creates the supplier command.
func supplierCmd(e *env) *cli.Command {
	fields := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Supplier name"},
			&cli.StringFlag{Name: "district", Usage: "District"},
			&cli.StringFlag{Name: "contact", Usage: "Phone or email"},
			&cli.StringFlag{Name: "products", Usage: "Comma-separated products"},
			&cli.StringFlag{Name: "maps-link", Usage: "Map URL"},
		}
	}
	apply := func(c *cli.Context, s *model.Supplier) {
		setString(c, "name", &s.Name)
		setString(c, "district", &s.District)
		setString(c, "contact", &s.Contact)
		setString(c, "maps-link", &s.MapsLink)
		if c.IsSet("products") {
			s.Products = parseList(c.String("products"))
		}
	}

	return adminCmd("supplier", "Manage suppliers", fields,
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			var s model.Supplier
			apply(c, &s)
			saved, outcome, err := a.Admin.SaveSupplier(c.Context, s)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(saved, outcome))
		},
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			current(c, a)
			s, _ := a.Admin.Suppliers.Get(c.String("id"))
			s.ID = c.String("id")
			apply(c, &s)
			outcome, err := a.Admin.UpdateSupplier(c.Context, s)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(s, outcome))
		},
		func(c *cli.Context) error {
			return deleteRecord(c, e, "supplier", func(a *app.App, id string) (optimistic.Outcome, error) {
				return a.Admin.DeleteSupplier(c.Context, id)
			})
		},
	)
}

// calendarTaskCmd creates the calendar-task command.
func calendarTaskCmd(e *env) *cli.Command {
	fields := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "Title (English)"},
			&cli.StringFlag{Name: "title-te", Usage: "Title (Telugu)"},
			&cli.StringFlag{Name: "description", Usage: "Description (English)"},
			&cli.StringFlag{Name: "description-te", Usage: "Description (Telugu)"},
			&cli.IntFlag{Name: "month", Usage: "Month, 1-12"},
			&cli.IntFlag{Name: "day", Usage: "Day of month, 1-31"},
		}
	}
	apply := func(c *cli.Context, t *model.CalendarTask) {
		setString(c, "title", &t.Title)
		setString(c, "title-te", &t.TitleTE)
		setString(c, "description", &t.Description)
		setString(c, "description-te", &t.DescriptionTE)
		if c.IsSet("month") {
			t.Month = c.Int("month")
		}
		if c.IsSet("day") {
			t.DayOfMonth = c.Int("day")
		}
	}

	return adminCmd("calendar-task", "Manage seasonal calendar tasks", fields,
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			var t model.CalendarTask
			apply(c, &t)
			saved, outcome, err := a.Admin.SaveCalendarTask(c.Context, t)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(saved, outcome))
		},
		func(c *cli.Context) error {
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			current(c, a)
			t, _ := a.Admin.Tasks.Get(c.String("id"))
			t.ID = c.String("id")
			apply(c, &t)
			outcome, err := a.Admin.UpdateCalendarTask(c.Context, t)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(outcomeResult(t, outcome))
		},
		func(c *cli.Context) error {
			return deleteRecord(c, e, "calendar task", func(a *app.App, id string) (optimistic.Outcome, error) {
				return a.Admin.DeleteCalendarTask(c.Context, id)
			})
		},
	)
}

func deleteRecord(c *cli.Context, e *env, kind string, del func(*app.App, string) (optimistic.Outcome, error)) error {
	id := c.String("id")
	if id == "" {
		return outputError(errors.NewInvalidRequest("id is required"))
	}
	a, err := e.open(c)
	if err != nil {
		return outputError(err)
	}
	ok, err := confirmDelete(c, kind)
	if err != nil {
		return outputError(err)
	}
	if !ok {
		return cancelled()
	}
	current(c, a)
	outcome, err := del(a, id)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(map[string]any{"id": id, "outcome": outcome})
}

func setString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}
