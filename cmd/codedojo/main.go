// Command codedojo は認証APIサーバー、セッション掃除ワーカー、マイグレーションを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/codedojo/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "codedojo: %v\n", err)
		os.Exit(1)
	}
}
