package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cantabile/internal/config"
	"cantabile/internal/library"
	"cantabile/internal/lyrics"
	"cantabile/internal/metadata"
	"cantabile/internal/player"
	"cantabile/internal/playlist"
	"cantabile/internal/remote"
	"cantabile/internal/session"
	"cantabile/pkg/models"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
)

const davScheme = "dav://"

// newRemoteResolver stages dav:// locators to a local file before playback;
// ordinary paths pass through untouched.
func newRemoteResolver(remotes map[string]*remote.Client) session.Resolver {
	return func(source string) (string, error) {
		endpoint, remotePath, ok := splitLocator(source)
		if !ok {
			return source, nil
		}
		client, found := remotes[endpoint]
		if !found {
			return "", fmt.Errorf("unknown remote endpoint: %s", endpoint)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return client.Stage(ctx, remotePath)
	}
}

// splitLocator splits "dav://endpoint/remote/path" into its parts.
func splitLocator(source string) (endpoint, remotePath string, ok bool) {
	rest, found := strings.CutPrefix(source, davScheme)
	if !found {
		return "", "", false
	}
	endpoint, remotePath, found = strings.Cut(rest, "/")
	if !found || endpoint == "" {
		return "", "", false
	}
	return endpoint, "/" + remotePath, true
}

// davLocator builds the locator recorded in playlists. The remote path is
// normalized to a leading slash so splitLocator always recovers the
// endpoint name.
func davLocator(endpoint, remotePath string) string {
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = "/" + remotePath
	}
	return davScheme + endpoint + remotePath
}

type repl struct {
	cfg         *config.Config
	logger      *logrus.Logger
	index       *library.Index
	scanner     *library.Scanner
	extractor   *metadata.Extractor
	store       *playlist.Store
	engine      *player.Engine
	coordinator *session.Coordinator
	remotes     map[string]*remote.Client
	lyrics      *lyrics.Loader
}

func newRepl(cfg *config.Config, logger *logrus.Logger, index *library.Index, scanner *library.Scanner,
	extractor *metadata.Extractor, store *playlist.Store, engine *player.Engine,
	coordinator *session.Coordinator, remotes map[string]*remote.Client,
	lyricsLoader *lyrics.Loader) *repl {
	return &repl{
		cfg:         cfg,
		logger:      logger,
		index:       index,
		scanner:     scanner,
		extractor:   extractor,
		store:       store,
		engine:      engine,
		coordinator: coordinator,
		remotes:     remotes,
		lyrics:      lyricsLoader,
	}
}

func (r *repl) run() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cantabile> ",
		HistoryFile:     os.TempDir() + "/cantabile_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    r.completer(),
	})
	if err != nil {
		r.logger.WithError(err).Error("Could not initialize console")
		return
	}
	defer rl.Close()

	fmt.Println("cantabile - type 'help' for commands")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		if err := r.dispatch(args[0], args[1:]); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (r *repl) completer() readline.AutoCompleter {
	playlistIDs := readline.PcItemDynamic(func(string) []string {
		var ids []string
		for _, p := range r.store.All() {
			ids = append(ids, p.ID)
		}
		return ids
	})
	endpoints := readline.PcItemDynamic(func(string) []string {
		var names []string
		for name := range r.remotes {
			names = append(names, name)
		}
		return names
	})

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("playlists"),
		readline.PcItem("new"),
		readline.PcItem("show", playlistIDs),
		readline.PcItem("rename", playlistIDs),
		readline.PcItem("delete", playlistIDs),
		readline.PcItem("add", playlistIDs),
		readline.PcItem("remove", playlistIDs),
		readline.PcItem("clear", playlistIDs),
		readline.PcItem("save", playlistIDs),
		readline.PcItem("use", playlistIDs),
		readline.PcItem("play"),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("stop"),
		readline.PcItem("next"),
		readline.PcItem("prev"),
		readline.PcItem("seek"),
		readline.PcItem("vol"),
		readline.PcItem("status"),
		readline.PcItem("lyrics"),
		readline.PcItem("scan"),
		readline.PcItem("tracks"),
		readline.PcItem("search"),
		readline.PcItem("dav",
			readline.PcItem("ls", endpoints),
			readline.PcItem("add", playlistIDs),
			readline.PcItem("put", endpoints),
		),
		readline.PcItem("quit"),
	)
}

func (r *repl) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		r.printHelp()
		return nil
	case "playlists":
		return r.cmdPlaylists()
	case "new":
		return r.cmdNew(args)
	case "show":
		return r.cmdShow(args)
	case "rename":
		return r.cmdRename(args)
	case "delete":
		return r.cmdDelete(args)
	case "add":
		return r.cmdAdd(args)
	case "remove":
		return r.cmdRemove(args)
	case "clear":
		return r.cmdClear(args)
	case "save":
		return r.cmdSave(args)
	case "use":
		return r.cmdUse(args)
	case "play":
		return r.cmdPlay(args)
	case "pause":
		return r.engine.Pause()
	case "resume":
		return r.engine.Resume()
	case "stop":
		r.coordinator.Stop()
		return nil
	case "next":
		return r.coordinator.Next()
	case "prev":
		return r.coordinator.Previous()
	case "seek":
		return r.cmdSeek(args)
	case "vol":
		return r.cmdVolume(args)
	case "status":
		return r.cmdStatus()
	case "lyrics":
		return r.cmdLyrics()
	case "scan":
		return r.cmdScan()
	case "tracks":
		return r.cmdTracks()
	case "search":
		return r.cmdSearch(args)
	case "dav":
		return r.cmdDav(args)
	default:
		return fmt.Errorf("unknown command: %s (try 'help')", cmd)
	}
}

func (r *repl) printHelp() {
	fmt.Println(`Playlists:
  playlists                      list playlists
  new <name>                     create a playlist
  show <id>                      list a playlist's tracks
  rename <id> <name>             rename a playlist
  delete <id>                    delete a playlist and its file
  add <id> <file>                add a local file to a playlist
  remove <id> <track-id>         remove a track
  clear <id>                     remove all tracks
  save <id>                      write the playlist to disk

Playback:
  use <id>                       queue a playlist
  play [n]                       play the queued playlist (track n, default 0)
  pause | resume | stop          control playback
  next | prev                    move through the queue
  seek <seconds>                 jump to a position in the current track
  vol <0.0-1.0>                  set volume
  status                         show playback state
  lyrics                         show lyrics for the current track

Library:
  scan                           rescan the music directory
  tracks                         list indexed tracks
  search <text>                  search title, artist and album

Remote:
  dav ls <endpoint> <path>       list a WebDAV directory
  dav add <id> <endpoint> <path> add a remote track to a playlist
  dav put <endpoint> <path> <file>  upload a local file`)
}

func (r *repl) cmdPlaylists() error {
	all := r.store.All()
	if len(all) == 0 {
		fmt.Println("no playlists")
		return nil
	}
	for _, p := range all {
		fmt.Printf("%s  %-24s %d tracks\n", p.ID, p.Name, len(p.Tracks))
	}
	return nil
}

func (r *repl) cmdNew(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: new <name>")
	}
	p, err := r.store.Create(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := r.store.Save(p.ID, r.cfg.Playlists.Dir); err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", p.Name, p.ID)
	return nil
}

func (r *repl) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <id>")
	}
	p, err := r.store.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d tracks)\n", p.Name, len(p.Tracks))
	for i, t := range p.Tracks {
		cover := ""
		if len(t.Cover) > 0 {
			cover = "  cover:" + metadata.CoverMimeType(t.Cover)
		}
		fmt.Printf("%3d  %s  %s - %s  [%s]%s\n", i, t.ID, t.Artist, t.Title, formatDuration(t.Duration()), cover)
	}
	return nil
}

func (r *repl) cmdRename(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rename <id> <name>")
	}
	if err := r.store.Rename(args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	return r.store.Save(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <id>")
	}
	return r.store.Delete(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdAdd(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: add <id> <file>")
	}
	filePath := strings.Join(args[1:], " ")
	ext := strings.ToLower(filepath.Ext(filePath))
	if !r.cfg.IsFormatSupported(ext) {
		return fmt.Errorf("unsupported format %q (supported: %s)", ext,
			strings.Join(r.cfg.Library.SupportedFormats, ", "))
	}
	track, err := r.extractor.ExtractFromFile(filePath)
	if err != nil {
		return err
	}
	if err := r.store.AddTrack(args[0], track); err != nil {
		return err
	}
	fmt.Printf("added %s - %s\n", track.Artist, track.Title)
	return r.store.Save(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdRemove(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: remove <id> <track-id>")
	}
	if err := r.store.RemoveTrack(args[0], args[1]); err != nil {
		return err
	}
	return r.store.Save(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdClear(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear <id>")
	}
	if err := r.store.Clear(args[0]); err != nil {
		return err
	}
	return r.store.Save(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdSave(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: save <id>")
	}
	return r.store.Save(args[0], r.cfg.Playlists.Dir)
}

func (r *repl) cmdUse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: use <id>")
	}
	p, err := r.store.Get(args[0])
	if err != nil {
		return err
	}
	r.coordinator.SetQueue(p)
	fmt.Printf("queued %s (%d tracks)\n", p.Name, len(p.Tracks))
	return nil
}

func (r *repl) cmdPlay(args []string) error {
	index := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("usage: play [n]")
		}
		index = n
	}
	return r.coordinator.PlayIndex(index)
}

func (r *repl) cmdSeek(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: seek <seconds>")
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("usage: seek <seconds>")
	}
	return r.engine.Seek(time.Duration(secs * float64(time.Second)))
}

func (r *repl) cmdVolume(args []string) error {
	if len(args) != 1 {
		fmt.Printf("volume: %.2f\n", r.engine.Volume())
		return nil
	}
	level, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("usage: vol <0.0-1.0>")
	}
	r.engine.SetVolume(level)
	return nil
}

func (r *repl) cmdStatus() error {
	snap := r.engine.Snapshot()
	update := r.coordinator.Snapshot()
	fmt.Printf("state:    %s\n", snap.State)
	if update.Track != nil {
		fmt.Printf("track:    %s - %s\n", update.Track.Artist, update.Track.Title)
		fmt.Printf("position: %s / %s\n", formatDuration(snap.Position), formatDuration(snap.Duration))
	}
	if update.Playlist != nil {
		fmt.Printf("queue:    %s (%d/%d)\n", update.Playlist.Name, update.Index+1, len(update.Playlist.Tracks))
	}
	fmt.Printf("volume:   %.2f\n", snap.Volume)
	return nil
}

// cmdLyrics resolves lyrics for the playing track (embedded tag, sidecar
// file, then online) and prints them with the line at the current position
// marked.
func (r *repl) cmdLyrics() error {
	update := r.coordinator.Snapshot()
	snap := r.engine.Snapshot()
	if update.Track == nil || snap.Path == "" {
		return fmt.Errorf("nothing is playing")
	}

	// snap.Path is the loaded local file: for remote tracks that is the
	// staged copy, so embedded tags and sidecars are read from disk either
	// way.
	embedded := r.extractor.ExtractLyrics(snap.Path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	found := r.lyrics.ForTrack(ctx, update.Track.Title, update.Track.Artist, embedded, snap.Path)
	if found.IsEmpty() {
		fmt.Printf("no lyrics found for %s - %s\n", update.Track.Artist, update.Track.Title)
		return nil
	}

	current, _ := found.LineAt(snap.Position)
	for i, line := range found.Lines {
		marker := "  "
		if i == current {
			marker = "> "
		}
		fmt.Printf("%s[%s] %s\n", marker, formatDuration(line.At), line.Text)
	}
	return nil
}

func (r *repl) cmdScan() error {
	added, err := r.scanner.Scan()
	if err != nil {
		return err
	}
	total, _ := r.index.Count()
	fmt.Printf("scan complete: %d new, %d indexed\n", added, total)
	return nil
}

func (r *repl) cmdTracks() error {
	tracks, err := r.index.All()
	if err != nil {
		return err
	}
	printTracks(tracks)
	return nil
}

func (r *repl) cmdSearch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: search <text>")
	}
	tracks, err := r.index.Search(strings.Join(args, " "))
	if err != nil {
		return err
	}
	printTracks(tracks)
	return nil
}

func (r *repl) cmdDav(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dav ls|add|put ...")
	}
	switch args[0] {
	case "ls":
		return r.cmdDavList(args[1:])
	case "add":
		return r.cmdDavAdd(args[1:])
	case "put":
		return r.cmdDavPut(args[1:])
	default:
		return fmt.Errorf("unknown dav command: %s", args[0])
	}
}

func (r *repl) endpoint(name string) (*remote.Client, error) {
	client, ok := r.remotes[name]
	if !ok {
		return nil, fmt.Errorf("unknown remote endpoint: %s", name)
	}
	return client, nil
}

func (r *repl) cmdDavList(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dav ls <endpoint> <path>")
	}
	client, err := r.endpoint(args[0])
	if err != nil {
		return err
	}
	if ep, ok := r.cfg.Endpoint(args[0]); ok {
		fmt.Printf("%s (%s)\n", ep.Name, ep.URL)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	items, err := client.List(ctx, args[1])
	if err != nil {
		return err
	}
	for _, item := range items {
		kind := "file"
		if item.IsDir {
			kind = "dir "
		}
		fmt.Printf("%s %10d  %s\n", kind, item.Size, item.Path)
	}
	return nil
}

// cmdDavAdd stages the remote file once to read its tags, then records the
// track with a dav:// locator so playback can restage it after the cache
// expires.
func (r *repl) cmdDavAdd(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: dav add <playlist-id> <endpoint> <path>")
	}
	playlistID, endpointName, remotePath := args[0], args[1], args[2]
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = "/" + remotePath
	}
	client, err := r.endpoint(endpointName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	staged, err := client.Stage(ctx, remotePath)
	if err != nil {
		return err
	}

	track, err := r.extractor.ExtractFromFile(staged)
	if err != nil {
		track = models.NewFallbackTrack(path.Base(remotePath))
	}
	track.Path = davLocator(endpointName, remotePath)

	if err := r.store.AddTrack(playlistID, track); err != nil {
		return err
	}
	fmt.Printf("added %s - %s\n", track.Artist, track.Title)
	return r.store.Save(playlistID, r.cfg.Playlists.Dir)
}

func (r *repl) cmdDavPut(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: dav put <endpoint> <path> <file>")
	}
	client, err := r.endpoint(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := client.Store(ctx, args[1], data); err != nil {
		return err
	}
	fmt.Printf("uploaded %s (%d bytes)\n", args[1], len(data))
	return nil
}

func printTracks(tracks []models.Track) {
	if len(tracks) == 0 {
		fmt.Println("no tracks")
		return
	}
	for _, t := range tracks {
		fmt.Printf("%-28s %-28s %-20s [%s]\n", t.Title, t.Artist, t.Album, formatDuration(t.Duration()))
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
