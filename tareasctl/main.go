package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/term"

	"github.com/yadilis/tareasync/storesim"
	"github.com/yadilis/tareasync/tareas"
)

const TareasCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

// Config is the optional ~/.config/tareasctl/config.toml.
// Flags always win over the file.
type Config struct {
	ApiUrl  string `toml:"api_url"`
	SyncUrl string `toml:"sync_url"`
}

func defaultConfig() *Config {
	return &Config{
		ApiUrl:  "http://localhost:7878",
		SyncUrl: "http://localhost:7878",
	}
}

func loadConfig() *Config {
	cfg := defaultConfig()
	home, err := os.UserHomeDir()
	if err != nil {
		return cfg
	}
	data, err := os.ReadFile(filepath.Join(home, ".config", "tareasctl", "config.toml"))
	if err != nil {
		return cfg
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		Err.Printf("ignoring bad config: %v", err)
		return defaultConfig()
	}
	if cfg.ApiUrl == "" {
		cfg.ApiUrl = defaultConfig().ApiUrl
	}
	if cfg.SyncUrl == "" {
		cfg.SyncUrl = defaultConfig().SyncUrl
	}
	return cfg
}

func main() {
	usage := `Tareas control.

Usage:
    tareasctl register [--api_url=<api_url>] --email=<email> [--nombre=<nombre>]
    tareasctl login [--api_url=<api_url>] --email=<email>
    tareasctl list --jwt=<jwt> [--sync_url=<sync_url>]
        [--search=<search>] [--sort=<sort>]
    tareasctl watch --jwt=<jwt> [--sync_url=<sync_url>]
        [--search=<search>] [--sort=<sort>]
    tareasctl create --jwt=<jwt> [--api_url=<api_url>] --title=<title>
        [--categoria=<categoria>] [--due=<due>]
    tareasctl edit --jwt=<jwt> [--api_url=<api_url>] --key=<key> --title=<title>
        [--categoria=<categoria>] [--due=<due>]
    tareasctl toggle --jwt=<jwt> [--api_url=<api_url>] [--sync_url=<sync_url>] --key=<key>
    tareasctl delete --jwt=<jwt> [--api_url=<api_url>] --key=<key> [--yes]
    tareasctl profile show --jwt=<jwt> [--api_url=<api_url>]
    tareasctl profile edit --jwt=<jwt> [--api_url=<api_url>]
        [--nombre=<nombre>] [--telefono=<telefono>] [--nacimiento=<nacimiento>]
    tareasctl sim [--port=<port>] [--secret=<secret>]

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --api_url=<api_url>         Store api url.
    --sync_url=<sync_url>       Store sync url.
    --email=<email>
    --nombre=<nombre>
    --telefono=<telefono>
    --nacimiento=<nacimiento>   Birth date, YYYY-MM-DD.
    --jwt=<jwt>                 Your session JWT.
    --search=<search>           Case-insensitive title filter.
    --sort=<sort>               NewestFirst|OldestFirst|TitleAscending|TitleDescending.
    --title=<title>
    --categoria=<categoria>     Personal|Trabajo|Estudios.
    --due=<due>                 Due date, RFC3339.
    --key=<key>                 Task key.
    --yes                       Skip the delete confirmation.
    --port=<port>               Sim listen port [default: 7878].
    --secret=<secret>           Sim signing secret [default: tareas-sim].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], TareasCtlVersion)
	if err != nil {
		panic(err)
	}

	cfg := loadConfig()

	if register_, _ := opts.Bool("register"); register_ {
		register(opts, cfg)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts, cfg)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts, cfg)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts, cfg)
	} else if create_, _ := opts.Bool("create"); create_ {
		create(opts, cfg)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts, cfg)
	} else if toggle_, _ := opts.Bool("toggle"); toggle_ {
		toggle(opts, cfg)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteTask(opts, cfg)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		if show_, _ := opts.Bool("show"); show_ {
			profileShow(opts, cfg)
		} else {
			profileEdit(opts, cfg)
		}
	} else if sim_, _ := opts.Bool("sim"); sim_ {
		sim(opts)
	}
}

func apiUrl(opts docopt.Opts, cfg *Config) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return cfg.ApiUrl
}

func syncUrl(opts docopt.Opts, cfg *Config) string {
	if syncUrl, err := opts.String("--sync_url"); err == nil && syncUrl != "" {
		return syncUrl
	}
	return cfg.SyncUrl
}

func newApi(opts docopt.Opts, cfg *Config) *tareas.StoreApi {
	api := tareas.NewStoreApi(apiUrl(opts, cfg))
	if jwt, err := opts.String("--jwt"); err == nil {
		api.SetByJwt(jwt)
	}
	return api
}

func newMutator(opts docopt.Opts, cfg *Config) *tareas.Mutator {
	jwt, _ := opts.String("--jwt")
	return tareas.NewMutator(newApi(opts, cfg), tareas.NewTokenIdentity(jwt))
}

func promptPassword() string {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("could not read password: %v", err)
	}
	return string(password)
}

func register(opts docopt.Opts, cfg *Config) {
	email, _ := opts.String("--email")
	nombre, _ := opts.String("--nombre")
	password := promptPassword()

	api := tareas.NewStoreApi(apiUrl(opts, cfg))
	result, err := api.AuthRegisterSync(&tareas.AuthRegisterArgs{
		Email:    email,
		Password: password,
		Nombre:   nombre,
	})
	if err != nil {
		Err.Fatalf("register failed: %v", err)
	}
	Out.Printf("%s", result.ByJwt)
}

func login(opts docopt.Opts, cfg *Config) {
	email, _ := opts.String("--email")
	password := promptPassword()

	api := tareas.NewStoreApi(apiUrl(opts, cfg))
	result, err := api.AuthLoginSync(&tareas.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("login failed: %v", err)
	}
	Out.Printf("%s", result.ByJwt)
}

func viewOptions(opts docopt.Opts) (string, tareas.SortMode) {
	search, _ := opts.String("--search")
	sortMode := tareas.SortNewestFirst
	if sortStr, err := opts.String("--sort"); err == nil && sortStr != "" {
		parsed, ok := tareas.ParseSortMode(sortStr)
		if !ok {
			Err.Fatalf("unknown sort mode %q", sortStr)
		}
		sortMode = parsed
	}
	return search, sortMode
}

func printView(entries []tareas.ViewEntry, stats tareas.ViewStats) {
	for _, entry := range entries {
		status := " "
		if entry.Task.Completed {
			status = "x"
		}
		due := ""
		if entry.Task.DueDate != nil {
			due = fmt.Sprintf(" due %s", entry.Task.DueDate.Format("2006-01-02"))
		}
		categoria := ""
		if entry.Task.Category != tareas.CategoryNone {
			categoria = fmt.Sprintf(" [%s]", entry.Task.Category)
		}
		Out.Printf("[%s] %s  %s%s%s", status, entry.Key, entry.Task.Title, categoria, due)
	}
	Out.Printf("%d total, %d completed, %d pending", stats.Total, stats.Completed, stats.Pending)
}

func newListView(opts docopt.Opts, cfg *Config, ctx context.Context) *tareas.TaskListView {
	jwt, _ := opts.String("--jwt")
	identity := tareas.NewTokenIdentity(jwt)
	if _, ok := identity.CurrentUserId(); !ok {
		Err.Fatalf("invalid jwt")
	}

	listView := tareas.NewTaskListViewWithDefaults(ctx, syncUrl(opts, cfg), identity)

	search, sortMode := viewOptions(opts)
	listView.SetSearchText(search)
	listView.SetSortMode(sortMode)
	return listView
}

func list(opts docopt.Opts, cfg *Config) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listView := newListView(opts, cfg, cancelCtx)
	defer listView.Close()

	first := make(chan struct{})
	unsub := listView.AddViewCallback(func(entries []tareas.ViewEntry, stats tareas.ViewStats) {
		select {
		case first <- struct{}{}:
		default:
		}
	})
	defer unsub()

	select {
	case <-first:
	case <-time.After(10 * time.Second):
		Err.Fatalf("timed out waiting for the first snapshot")
	}

	entries, stats := listView.View()
	printView(entries, stats)
}

func watch(opts docopt.Opts, cfg *Config) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listView := newListView(opts, cfg, cancelCtx)
	defer listView.Close()

	unsub := listView.AddViewCallback(func(entries []tareas.ViewEntry, stats tareas.ViewStats) {
		Out.Printf("----")
		printView(entries, stats)
	})
	defer unsub()

	select {}
}

func parseDue(opts docopt.Opts) *time.Time {
	dueStr, err := opts.String("--due")
	if err != nil || dueStr == "" {
		return nil
	}
	due, parseErr := time.Parse(time.RFC3339, dueStr)
	if parseErr != nil {
		Err.Fatalf("invalid due date %q (RFC3339)", dueStr)
	}
	return &due
}

func create(opts docopt.Opts, cfg *Config) {
	title, _ := opts.String("--title")
	categoria, _ := opts.String("--categoria")

	mutator := newMutator(opts, cfg)
	result, err := mutator.CreateTaskSync(&tareas.CreateTaskArgs{
		Title:    title,
		Category: tareas.ParseCategory(categoria),
		DueDate:  parseDue(opts),
	})
	if err != nil {
		Err.Fatalf("create failed: %v", err)
	}
	Out.Printf("%s", result.Key)
}

func edit(opts docopt.Opts, cfg *Config) {
	key, _ := opts.String("--key")
	title, _ := opts.String("--title")
	categoria, _ := opts.String("--categoria")

	mutator := newMutator(opts, cfg)
	_, err := mutator.EditTaskSync(&tareas.EditTaskArgs{
		Key:      key,
		Title:    title,
		Category: tareas.ParseCategory(categoria),
		DueDate:  parseDue(opts),
	})
	if err != nil {
		Err.Fatalf("edit failed: %v", err)
	}
	Out.Printf("ok")
}

func toggle(opts docopt.Opts, cfg *Config) {
	key, _ := opts.String("--key")
	jwt, _ := opts.String("--jwt")

	// read the last-known value the way a mounted view would observe it
	identity := tareas.NewTokenIdentity(jwt)
	userId, ok := identity.CurrentUserId()
	if !ok {
		Err.Fatalf("invalid jwt")
	}

	api := newApi(opts, cfg)
	result, err := api.GetValueSync(fmt.Sprintf("users/%s/tasks/%s", userId, key))
	if err != nil {
		Err.Fatalf("toggle failed: %v", err)
	}
	if !result.Exists {
		Err.Fatalf("no task with key %s", key)
	}
	var observed struct {
		Completed bool `json:"completed"`
	}
	if err := json.Unmarshal(result.Value, &observed); err != nil {
		Err.Fatalf("toggle failed: %v", err)
	}

	mutator := tareas.NewMutator(api, identity)
	toggled, err := mutator.ToggleTaskSync(key, observed.Completed)
	if err != nil {
		Err.Fatalf("toggle failed: %v", err)
	}
	Out.Printf("completed=%t", toggled.Completed)
}

func deleteTask(opts docopt.Opts, cfg *Config) {
	key, _ := opts.String("--key")

	// delete is irreversible. the confirmation gate lives here, not in the engine.
	if yes, _ := opts.Bool("--yes"); !yes {
		fmt.Fprintf(os.Stderr, "Delete task %s? This cannot be undone. [y/N] ", key)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			Out.Printf("cancelled")
			return
		}
	}

	mutator := newMutator(opts, cfg)
	if _, err := mutator.DeleteTaskSync(key); err != nil {
		Err.Fatalf("delete failed: %v", err)
	}
	Out.Printf("deleted")
}

func newProfileTracker(opts docopt.Opts, cfg *Config) *tareas.ProfileTracker {
	jwt, _ := opts.String("--jwt")
	return tareas.NewProfileTracker(newApi(opts, cfg), tareas.NewTokenIdentity(jwt))
}

func profileShow(opts docopt.Opts, cfg *Config) {
	tracker := newProfileTracker(opts, cfg)
	result, err := tracker.LoadSync()
	if err != nil {
		Err.Fatalf("profile load failed: %v", err)
	}
	Out.Printf("email:           %s", result.Profile.Email)
	Out.Printf("nombre:          %s", result.Profile.Nombre)
	Out.Printf("telefono:        %s", result.Profile.Telefono)
	Out.Printf("fechaNacimiento: %s", result.Profile.FechaNacimiento)
}

func profileEdit(opts docopt.Opts, cfg *Config) {
	tracker := newProfileTracker(opts, cfg)
	if _, err := tracker.LoadSync(); err != nil {
		Err.Fatalf("profile load failed: %v", err)
	}

	if nombre, err := opts.String("--nombre"); err == nil && nombre != "" {
		tracker.SetNombre(nombre)
	}
	if telefono, err := opts.String("--telefono"); err == nil && telefono != "" {
		tracker.SetTelefono(telefono)
	}
	if nacimiento, err := opts.String("--nacimiento"); err == nil && nacimiento != "" {
		tracker.SetFechaNacimiento(nacimiento)
	}

	if !tracker.Dirty() {
		Out.Printf("no changes")
		return
	}

	if _, err := tracker.CommitSync(); err != nil {
		var validationErr *tareas.ValidationError
		if errors.As(err, &validationErr) {
			Err.Fatalf("invalid %s: %s", validationErr.Field, validationErr.Message)
		}
		Err.Fatalf("profile commit failed: %v", err)
	}
	Out.Printf("saved")
}

func sim(opts docopt.Opts) {
	port, _ := opts.String("--port")
	secret, _ := opts.String("--secret")

	server := storesim.NewServer(secret)
	if err := server.Run(fmt.Sprintf(":%s", port)); err != nil {
		Err.Fatalf("sim exited: %v", err)
	}
}
