// Command smap はSMAPモバイルウェブ向けのAPIゲートウェイ。
//
//	smap [serve]                 ゲートウェイサーバーを起動する
//	smap worker                  期限切れスナップショットを定期削除する
//	smap migrate [up|down|version]
//	smap healthcheck             /healthを確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/smap-gateway/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "smap: %v\n", err)
		os.Exit(1)
	}
}
