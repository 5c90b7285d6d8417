// Command import_content loads a YAML content pack into a room still in the
// lobby, either through a running controller or straight into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/controlapi"
	"github.com/mcdev12/buzzer/go/internal/dbconfig"
	"github.com/mcdev12/buzzer/go/internal/models"
	"github.com/mcdev12/buzzer/go/internal/store"
)

func main() {
	controllerURL := flag.String("controller", "", "controller base URL; empty writes to the database")
	roomFlag := flag.String("room", "", "room id for database imports; defaults to the live room")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: import_content [-controller URL | -room ID] pack.yaml\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// 1) Load and validate the pack
	pack, err := content.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load pack: %v\n", err)
		os.Exit(1)
	}
	if err := pack.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid pack: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2) Import
	if *controllerURL != "" {
		err = viaController(ctx, *controllerURL, pack)
	} else {
		err = viaDatabase(ctx, *roomFlag, pack)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		os.Exit(1)
	}

	// 3) Print summary
	fmt.Printf(
		"Content import complete: %q, %d round 1 questions, %d round 2 questions, final %t\n",
		pack.Title, pack.QuestionCount(models.RoundOne), pack.QuestionCount(models.RoundTwo), pack.Final != nil,
	)
}

func viaController(ctx context.Context, baseURL string, pack *content.Pack) error {
	client := controlapi.NewClient(http.DefaultClient, baseURL)
	return client.ImportContent(ctx, &controlapi.ImportContentRequest{Pack: pack})
}

func viaDatabase(ctx context.Context, roomFlag string, pack *content.Pack) error {
	db, err := dbconfig.Open(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewPostgres(db)

	var room *models.Room
	if roomFlag == "" {
		room, err = st.GetLiveRoom(ctx)
	} else {
		id, perr := uuid.Parse(roomFlag)
		if perr != nil {
			return fmt.Errorf("invalid room id: %w", perr)
		}
		room, err = st.GetRoom(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("find room: %w", err)
	}
	if room.Status != models.RoomStatusLobby {
		return fmt.Errorf("room %s is %s, content can only change in the lobby", room.JoinCode, room.Status)
	}
	return content.Import(ctx, st, room.ID, pack)
}
