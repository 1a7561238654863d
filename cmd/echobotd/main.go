package main

import "github.com/FreeBandoLano/echobot-sub000/services/monitord/cli"

func main() {
	cli.Execute()
}
