// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package operations

import (
	"net/http"

	"elevenline/internal/catalog"
)

func idParam(name, description string) catalog.Param {
	return catalog.Param{Name: name, Type: catalog.TypeString, Description: description, Required: true}
}

func stringParam(name, description string) catalog.Param {
	return catalog.Param{Name: name, Type: catalog.TypeString, Description: description}
}

var limitParam = catalog.Param{Name: "limit", Type: catalog.TypeInteger, Description: "Maximum number of items to return."}

// read declares a safe GET.
func read(name, description, path string, params ...catalog.Param) endpoint {
	return endpoint{
		Name:        name,
		Description: description,
		Category:    catalog.CategorySafe,
		Idempotent:  true,
		Method:      http.MethodGet,
		Path:        path,
		Params:      params,
	}
}

// remove declares a destructive DELETE.
func remove(name, description, path string, params ...catalog.Param) endpoint {
	return endpoint{
		Name:        name,
		Description: description,
		Category:    catalog.CategoryDestructive,
		Idempotent:  true,
		Method:      http.MethodDelete,
		Path:        path,
		Params:      params,
	}
}

func (e endpoint) withQuery(names ...string) endpoint {
	e.Query = names
	return e
}

func (e endpoint) withValidation(rule catalog.ValidationRule) endpoint {
	e.Validate = rule
	return e
}

func (e endpoint) withRename(from, to string) endpoint {
	renamed := make(map[string]string, len(e.Rename)+1)
	for k, v := range e.Rename {
		renamed[k] = v
	}
	renamed[from] = to
	e.Rename = renamed
	return e
}

var endpoints = []endpoint{
	// Voices
	read("list_voices", "List the voices available to the account.", "/v1/voices"),
	read("get_voice", "Get a voice with its settings and samples.", "/v1/voices/{voice_id}",
		idParam("voice_id", "Voice ID.")),
	remove("delete_voice", "Delete a voice.", "/v1/voices/{voice_id}",
		idParam("voice_id", "Voice ID.")),
	read("get_voice_settings", "Get the stored settings of a voice.", "/v1/voices/{voice_id}/settings",
		idParam("voice_id", "Voice ID.")),
	{
		Name:        "edit_voice_settings",
		Description: "Change the stored settings of a voice.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/voices/{voice_id}/settings/edit",
		Params:      append([]catalog.Param{idParam("voice_id", "Voice ID.")}, voiceSettingParams...),
		Body:        []string{"stability", "similarity_boost", "style", "speed", "speaker_boost"},
		Rename:      map[string]string{"speaker_boost": "use_speaker_boost"},
		Validate:    validateVoiceSettings,
	},
	remove("delete_sample", "Delete a sample of a voice.", "/v1/voices/{voice_id}/samples/{sample_id}",
		idParam("voice_id", "Voice ID."), idParam("sample_id", "Sample ID.")),
	read("list_library_voices", "Search the shared voice library.", "/v1/shared-voices",
		limitParam,
		stringParam("search", "Search query."),
		catalog.Param{Name: "category", Type: catalog.TypeString, Description: "Voice category.", Enum: []string{"professional", "high_quality", "generated", "famous"}},
		catalog.Param{Name: "gender", Type: catalog.TypeString, Description: "Gender filter.", Enum: []string{"male", "female", "neutral"}},
		catalog.Param{Name: "age", Type: catalog.TypeString, Description: "Age filter.", Enum: []string{"young", "middle_aged", "old"}},
	).withQuery("limit", "search", "category", "gender", "age").withRename("limit", "page_size"),
	read("get_similar_voices", "Find library voices similar to a voice or a description.", "/v1/voices/similar",
		stringParam("voice_id", "Voice ID to compare against."),
		stringParam("text", "Description of the wanted voice."),
	).withQuery("voice_id", "text").withValidation(catalog.ExactlyOneOf("voice_id", "text")),
	{
		Name:        "share_voice",
		Description: "Publish a voice to the shared library.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/voices/{voice_id}/share",
		Params:      []catalog.Param{idParam("voice_id", "Voice ID.")},
	},
	{
		Name:        "start_voice_fine_tune",
		Description: "Start fine-tuning a professional voice clone.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/voices/{voice_id}/fine-tune",
		Params: []catalog.Param{
			idParam("voice_id", "Voice ID."),
			idParam("name", "Name of the fine-tuned voice."),
			stringParam("description", "Description of the fine-tuned voice."),
		},
		Body: []string{"name", "description"},
	},
	read("get_voice_fine_tune", "Get the fine-tuning status of a voice.", "/v1/voices/{voice_id}/fine-tune",
		idParam("voice_id", "Voice ID.")),
	remove("cancel_voice_fine_tune", "Cancel fine-tuning of a voice.", "/v1/voices/{voice_id}/fine-tune",
		idParam("voice_id", "Voice ID.")),
	{
		Name:        "add_library_voice",
		Description: "Add a voice from the shared library to the account.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/voices/add/{public_user_id}/{voice_id}",
		Params: []catalog.Param{
			idParam("public_user_id", "Public user ID of the voice owner."),
			idParam("voice_id", "Voice ID."),
			idParam("name", "Name for the saved voice."),
		},
		Body:   []string{"name"},
		Rename: map[string]string{"name": "new_name"},
	},
	{
		Name:        "design_voice",
		Description: "Generate voice previews from a description.",
		Category:    catalog.CategorySafe,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/text-to-voice/create-previews",
		Params: []catalog.Param{
			idParam("voice_description", "Description of the voice to design."),
			stringParam("text", "Text the previews speak, 100 to 1000 characters."),
		},
		Body:     []string{"voice_description", "text"},
		Validate: catalog.MaxChars("text", 1000),
	},
	{
		Name:        "save_voice_design",
		Description: "Save a generated voice preview as a voice.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/text-to-voice/create-voice-from-preview",
		Params: []catalog.Param{
			idParam("voice_name", "Name of the voice."),
			idParam("voice_description", "Description of the voice."),
			idParam("generated_voice_id", "ID of the chosen preview."),
		},
		Body: []string{"voice_name", "voice_description", "generated_voice_id"},
	},

	// Models, account and usage
	read("list_models", "List the available models.", "/v1/models"),

	// Music
	read("list_music", "List generated music tracks.", "/v1/music", limitParam).
		withQuery("limit").withRename("limit", "page_size"),
	read("get_music", "Get a generated music track.", "/v1/music/{music_id}",
		idParam("music_id", "Music ID.")),
	remove("delete_music", "Delete a generated music track.", "/v1/music/{music_id}",
		idParam("music_id", "Music ID.")),

	read("get_user_info", "Get the account information.", "/v1/user"),
	read("get_user_subscription", "Get the subscription and quota.", "/v1/user/subscription"),

	// History
	read("list_history", "List generated audio.", "/v1/history",
		catalog.Param{Name: "limit", Type: catalog.TypeInteger, Description: "Maximum number of items to return.", Default: float64(DefaultHistoryPageSize)},
		stringParam("voice_id", "Only items generated with this voice."),
		stringParam("start_after", "History item ID to continue after."),
	).withQuery("limit", "voice_id", "start_after").withRename("limit", "page_size").withRename("start_after", "start_after_history_item_id"),
	read("get_history_item", "Get a history item.", "/v1/history/{history_item_id}",
		idParam("history_item_id", "History item ID.")),
	remove("delete_history_item", "Delete a history item.", "/v1/history/{history_item_id}",
		idParam("history_item_id", "History item ID.")),
	{
		Name:        "history_feedback",
		Description: "Rate a history item.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/history/{history_item_id}/feedback",
		Params: []catalog.Param{
			idParam("history_item_id", "History item ID."),
			{Name: "thumbs_up", Type: catalog.TypeBoolean, Description: "Whether the item was good.", Required: true},
			stringParam("feedback", "Free-form feedback."),
		},
		Body:     []string{"thumbs_up", "feedback"},
		Validate: catalog.MaxChars("feedback", 1000),
	},

	// Dubbing
	read("get_dubbing_status", "Get the status of a dubbing project.", "/v1/dubbing/{dubbing_id}",
		idParam("dubbing_id", "Dubbing ID.")),
	remove("delete_dubbing", "Delete a dubbing project.", "/v1/dubbing/{dubbing_id}",
		idParam("dubbing_id", "Dubbing ID.")),

	// Agents
	read("list_agents", "List conversational agents.", "/v1/convai/agents",
		limitParam, stringParam("search", "Search by agent name."),
	).withQuery("limit", "search").withRename("limit", "page_size"),
	read("get_agent", "Get an agent configuration.", "/v1/convai/agents/{agent_id}",
		idParam("agent_id", "Agent ID.")),
	{
		Name:        "create_agent",
		Description: "Create a conversational agent.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/convai/agents/create",
		Params:      agentParams(true),
		BuildBody:   agentBody(true),
	},
	{
		Name:        "update_agent",
		Description: "Update a conversational agent.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPatch,
		Path:        "/v1/convai/agents/{agent_id}",
		Params:      append([]catalog.Param{idParam("agent_id", "Agent ID.")}, agentParams(false)...),
		BuildBody:   agentBody(false),
	},
	remove("delete_agent", "Delete an agent.", "/v1/convai/agents/{agent_id}",
		idParam("agent_id", "Agent ID.")),
	read("get_signed_url", "Get a signed URL to start a conversation with a private agent.", "/v1/convai/conversation/get-signed-url",
		idParam("agent_id", "Agent ID."),
	).withQuery("agent_id"),
	read("get_conversation_token", "Get a WebRTC token to talk to an agent.", "/v1/convai/conversation/token",
		idParam("agent_id", "Agent ID."),
	).withQuery("agent_id"),
	read("list_batch_calls", "List batch calling jobs of the workspace.", "/v1/convai/batch-calling/workspace",
		limitParam,
	).withQuery("limit"),

	// Conversations
	read("list_conversations", "List agent conversations.", "/v1/convai/conversations",
		stringParam("agent_id", "Only conversations with this agent."), limitParam,
	).withQuery("agent_id", "limit").withRename("limit", "page_size"),
	read("get_conversation", "Get a conversation with its transcript.", "/v1/convai/conversations/{conversation_id}",
		idParam("conversation_id", "Conversation ID.")),
	remove("delete_conversation", "Delete a conversation.", "/v1/convai/conversations/{conversation_id}",
		idParam("conversation_id", "Conversation ID.")),

	// Knowledge base
	read("list_knowledge", "List knowledge base documents.", "/v1/convai/knowledge-base",
		limitParam, stringParam("search", "Search by document name."),
	).withQuery("limit", "search").withRename("limit", "page_size"),
	read("get_knowledge", "Get a knowledge base document.", "/v1/convai/knowledge-base/{document_id}",
		idParam("document_id", "Document ID.")),
	remove("delete_knowledge", "Delete a knowledge base document.", "/v1/convai/knowledge-base/{document_id}",
		idParam("document_id", "Document ID.")),
	{
		Name:        "rebuild_knowledge_index",
		Description: "Compute the RAG index of a document.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/convai/knowledge-base/{document_id}/rag-index",
		Params: []catalog.Param{
			idParam("document_id", "Document ID."),
			{Name: "model", Type: catalog.TypeString, Description: "Embedding model.", Default: "e5_mistral_7b_instruct"},
		},
		Body: []string{"model"},
	},
	read("get_knowledge_index_status", "Get the RAG index status of a document.", "/v1/convai/knowledge-base/{document_id}/rag-index",
		idParam("document_id", "Document ID.")),

	// Agent tools
	read("list_agent_tools", "List tools available to agents.", "/v1/convai/tools"),
	read("get_agent_tool", "Get an agent tool.", "/v1/convai/tools/{tool_id}",
		idParam("tool_id", "Tool ID.")),
	remove("delete_agent_tool", "Delete an agent tool.", "/v1/convai/tools/{tool_id}",
		idParam("tool_id", "Tool ID.")),

	// Phone numbers
	read("list_phone_numbers", "List phone numbers.", "/v1/convai/phone-numbers"),
	read("get_phone_number", "Get a phone number.", "/v1/convai/phone-numbers/{phone_id}",
		idParam("phone_id", "Phone number ID.")),
	{
		Name:        "import_phone_number",
		Description: "Import a Twilio phone number.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/convai/phone-numbers",
		Params: []catalog.Param{
			idParam("phone_number", "Phone number in E.164 format."),
			idParam("label", "Label of the number."),
			idParam("sid", "Twilio account SID."),
			idParam("token", "Twilio auth token."),
		},
		Body: []string{"phone_number", "label", "sid", "token"},
	},
	{
		Name:        "update_phone_number",
		Description: "Assign an agent to a phone number.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPatch,
		Path:        "/v1/convai/phone-numbers/{phone_id}",
		Params: []catalog.Param{
			idParam("phone_id", "Phone number ID."),
			stringParam("agent_id", "Agent to answer calls."),
			stringParam("label", "New label."),
		},
		Body:     []string{"agent_id", "label"},
		Validate: catalog.RequireOneOf("agent_id", "label"),
	},
	remove("delete_phone_number", "Delete a phone number.", "/v1/convai/phone-numbers/{phone_id}",
		idParam("phone_id", "Phone number ID.")),

	// Workspace
	read("get_workspace", "Get the workspace information.", "/v1/workspace"),
	read("list_workspace_api_keys", "List the API keys of the workspace.", "/v1/workspace/api-keys"),
	read("list_workspace_members", "List workspace members.", "/v1/workspace/members"),
	{
		Name:        "invite_workspace_member",
		Description: "Invite a user to the workspace.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/workspace/invites/add",
		Params:      []catalog.Param{idParam("email", "Email address to invite.")},
		Body:        []string{"email"},
		Validate:    validateEmail,
	},
	{
		Name:        "revoke_workspace_invite",
		Description: "Revoke a pending workspace invitation.",
		Category:    catalog.CategoryDestructive,
		Idempotent:  true,
		Method:      http.MethodDelete,
		Path:        "/v1/workspace/invites",
		Params:      []catalog.Param{idParam("email", "Invited email address.")},
		Body:        []string{"email"},
		Validate:    validateEmail,
	},
	read("list_secrets", "List workspace secrets used by agent tools.", "/v1/convai/secrets"),
	{
		Name:        "add_secret",
		Description: "Store a workspace secret.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/convai/secrets",
		Params: []catalog.Param{
			idParam("name", "Secret name."),
			idParam("value", "Secret value."),
		},
		BuildBody: secretBody,
	},
	remove("delete_secret", "Delete a workspace secret.", "/v1/convai/secrets/{secret_id}",
		idParam("secret_id", "Secret ID.")),

	// Webhooks
	read("list_webhooks", "List workspace webhooks.", "/v1/workspace/webhooks"),
	{
		Name:        "create_webhook",
		Description: "Register a workspace webhook.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/workspace/webhooks",
		Params: []catalog.Param{
			idParam("name", "Webhook name."),
			idParam("url", "HTTPS endpoint receiving the events."),
		},
		BuildBody: webhookBody,
		Validate:  validateWebhookURL,
	},
	remove("delete_webhook", "Delete a workspace webhook.", "/v1/workspace/webhooks/{webhook_id}",
		idParam("webhook_id", "Webhook ID.")),

	// Pronunciation dictionaries
	read("list_pronunciation_dictionaries", "List pronunciation dictionaries.", "/v1/pronunciation-dictionaries",
		limitParam,
	).withQuery("limit").withRename("limit", "page_size"),
	read("get_pronunciation_dictionary", "Get a pronunciation dictionary.", "/v1/pronunciation-dictionaries/{dictionary_id}",
		idParam("dictionary_id", "Dictionary ID.")),
	remove("delete_pronunciation_dictionary", "Delete a pronunciation dictionary.", "/v1/pronunciation-dictionaries/{dictionary_id}",
		idParam("dictionary_id", "Dictionary ID.")),
	{
		Name:        "get_pronunciation_pls",
		Description: "Download a dictionary version as a PLS document.",
		Category:    catalog.CategorySafe,
		Idempotent:  true,
		Method:      http.MethodGet,
		Path:        "/v1/pronunciation-dictionaries/{dictionary_id}/{version_id}/download",
		Params: []catalog.Param{
			idParam("dictionary_id", "Dictionary ID."),
			idParam("version_id", "Dictionary version ID."),
		},
		Raw: true,
	},

	// Studio projects
	read("list_projects", "List Studio projects.", "/v1/studio/projects"),
	read("get_project", "Get a Studio project.", "/v1/studio/projects/{project_id}",
		idParam("project_id", "Project ID.")),
	remove("delete_project", "Delete a Studio project.", "/v1/studio/projects/{project_id}",
		idParam("project_id", "Project ID.")),
	{
		Name:        "convert_project",
		Description: "Render a Studio project to audio.",
		Category:    catalog.CategoryAdmin,
		Idempotent:  true,
		Method:      http.MethodPost,
		Path:        "/v1/studio/projects/{project_id}/convert",
		Params:      []catalog.Param{idParam("project_id", "Project ID.")},
	},
	read("list_project_snapshots", "List rendered snapshots of a Studio project.", "/v1/studio/projects/{project_id}/snapshots",
		idParam("project_id", "Project ID.")),

	// Audio Native
	read("list_audio_native", "List Audio Native projects.", "/v1/audio-native",
		catalog.Param{Name: "limit", Type: catalog.TypeInteger, Description: "Maximum number of projects to return.", Default: float64(10)},
		catalog.Param{Name: "page", Type: catalog.TypeInteger, Description: "Page number.", Default: float64(1)},
	).withQuery("limit", "page"),
	read("get_audio_native", "Get an Audio Native project.", "/v1/audio-native/{project_id}",
		idParam("project_id", "Project ID.")),
	{
		Name:        "create_audio_native",
		Description: "Create an Audio Native player project.",
		Category:    catalog.CategoryAdmin,
		Method:      http.MethodPost,
		Path:        "/v1/audio-native",
		Params: []catalog.Param{
			idParam("name", "Project name."),
			stringParam("title", "Title shown in the player."),
			stringParam("author", "Author shown in the player."),
			stringParam("image", "Image URL shown in the player."),
			stringParam("voice_id", "Voice used to narrate."),
			stringParam("model_id", "Model used to narrate."),
			stringParam("text_color", "Player text color."),
			stringParam("background_color", "Player background color."),
			{Name: "small", Type: catalog.TypeBoolean, Description: "Use the small player."},
			{Name: "auto_convert", Type: catalog.TypeBoolean, Description: "Convert the content to audio right away."},
		},
		Body: []string{"name", "title", "author", "image", "voice_id", "model_id", "text_color", "background_color", "small", "auto_convert"},
	},
}
